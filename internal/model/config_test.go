package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Mailboxes)
	assert.Equal(t, 20, cfg.Sync.WindowSize)
	assert.Equal(t, 15, cfg.Sync.AuthTimeoutSec)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigMailboxes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
mailboxes:
  - id: support
    name: Support
    host: imap.example.com
    encryption: opportunistic-TLS
    username: support@example.com
  - id: billing
    host: imap.example.com
    port: 1993
    enabled: false
sync:
  window_size: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Mailboxes, 2)

	support := cfg.Mailboxes[0]
	assert.True(t, support.Enabled, "unset enabled defaults to true")
	assert.Equal(t, 120, support.PollIntervalSec)
	assert.False(t, cfg.Mailboxes[1].Enabled)
	assert.Equal(t, 5, cfg.Sync.WindowSize)
	assert.Len(t, cfg.EnabledMailboxes(), 1)

	conn, err := support.Connection()
	require.NoError(t, err)
	assert.Equal(t, EncryptionStartTLS, conn.Encryption)
	assert.Equal(t, 143, conn.Port)
	assert.Equal(t, "imap.example.com:143", conn.Addr())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SUPPORTINBOX_SYNC_WINDOW_SIZE", "7")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.WindowSize)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultAppConfig()
	cfg.Mailboxes = []MailboxConfig{{ID: "support", Host: "h", Port: 993, Enabled: true, PollIntervalSec: 60}}

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, loaded.Mailboxes, 1)
	assert.Equal(t, "support", loaded.Mailboxes[0].ID)
	assert.Equal(t, 60, loaded.Mailboxes[0].PollIntervalSec)
}

func TestParseEncryption(t *testing.T) {
	for in, want := range map[string]Encryption{
		"TLS":               EncryptionTLS,
		"":                  EncryptionTLS,
		"starttls":          EncryptionStartTLS,
		"opportunistic-TLS": EncryptionStartTLS,
		"none":              EncryptionNone,
	} {
		got, err := ParseEncryption(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEncryption("rot13")
	assert.Error(t, err)
}

func TestStatusRules(t *testing.T) {
	assert.True(t, IsTerminal(StatusResolved, []Label{LabelSpam}))
	assert.False(t, IsTerminal(StatusInProgress, []Label{LabelSpam}))
	assert.False(t, IsTerminal(StatusResolved, nil))
	assert.Equal(t, StatusNew, InitialStatus(false))
	assert.Equal(t, StatusResolved, InitialStatus(true))

	m := MessageSummary{Labels: []Label{LabelIrrelevant}, To: []string{"a@x"}}
	c := m.Clone()
	c.Labels[0] = LabelSpam
	c.To[0] = "b@x"
	assert.Equal(t, LabelIrrelevant, m.Labels[0])
	assert.Equal(t, "a@x", m.To[0])

	assert.Equal(t, "support_42", MessageID("support", 42))
	assert.Equal(t, "conv_support_42", ConversationID("support", 42))
}
