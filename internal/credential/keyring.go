package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/support-inbox/internal/model"
)

const serviceName = "supportinbox"

// ErrNoSecret is returned when a mailbox has no secret in config or in the
// keyring.
var ErrNoSecret = errors.New("no mailbox secret configured")

// MailboxKey is the keyring key holding the secret of a mailbox.
func MailboxKey(mailboxID string) string {
	return "mailbox-" + mailboxID
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/supportinbox/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("supportinbox-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes mailbox secrets.
type Store struct {
	ring keyring.Keyring
}

// Open opens the system keyring.
func Open() (*Store, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// ResolveSecret fills in the secret of cfg from the keyring when the config
// file leaves it empty. s may be nil when no keyring is available.
func ResolveSecret(s *Store, cfg model.MailboxConfig) (model.MailboxConfig, error) {
	if cfg.Secret != "" {
		return cfg, nil
	}
	if s == nil {
		return cfg, fmt.Errorf("mailbox %s: %w", cfg.ID, ErrNoSecret)
	}

	secret, err := s.Get(MailboxKey(cfg.ID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return cfg, fmt.Errorf("mailbox %s: %w", cfg.ID, ErrNoSecret)
	}
	if err != nil {
		return cfg, err
	}
	cfg.Secret = secret
	return cfg, nil
}
