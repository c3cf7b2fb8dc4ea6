package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/support-inbox/internal/model"
)

func TestResolveSecret(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	require.NoError(t, s.Set(MailboxKey("support"), "app-password"))

	cfg, err := ResolveSecret(s, model.MailboxConfig{ID: "support"})
	require.NoError(t, err)
	assert.Equal(t, "app-password", cfg.Secret)

	cfg, err = ResolveSecret(s, model.MailboxConfig{ID: "billing", Secret: "inline"})
	require.NoError(t, err)
	assert.Equal(t, "inline", cfg.Secret, "config wins over keyring")

	_, err = ResolveSecret(s, model.MailboxConfig{ID: "billing"})
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = ResolveSecret(nil, model.MailboxConfig{ID: "support"})
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestDeleteCredential(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	require.NoError(t, s.Set("mailbox-support", "x"))
	require.NoError(t, s.Delete("mailbox-support"))

	_, err := s.Get("mailbox-support")
	assert.ErrorIs(t, err, keyring.ErrKeyNotFound)
}
