package folder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmigrate/pkg/types"
)

func TestMapMailbox(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"TopFile/Inbox/Projects", "Projects"},
		{"TopFile/Inbox", "INBOX"},
		{"TopFile/INBOX/Work/2024", "Work/2024"},
		{"TopFile/Sent Items", "Sent Items"},
		{"TopFile/Inbox/a;b|c", "a_b_c"},
		{"TopFile/Inbox/team@acme", "teamatacme"},
		{"TopFile/Archive/Old", "Archive/Old"},
	}

	for _, tc := range tests {
		got := MapMailbox(tc.path, 1, "/")
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestMapMailboxDelimiter(t *testing.T) {
	assert.Equal(t, "Work.2024", MapMailbox("Export/Inbox/Work/2024", 1, "."))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e_f_g_h_i_", Sanitize("a;b<c?d\\e|f`g!h{i}"))
	assert.Equal(t, "userathost", Sanitize("user@host"))
	assert.Equal(t, "Plain Name", Sanitize("Plain Name"))
}

func TestSniff(t *testing.T) {
	logger := logrus.New()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "event1.ics"), []byte("BEGIN:VCALENDAR"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.eml"), []byte("From: x"), 0o600))

	typ, err := Sniff(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, types.TypeEvent, typ)

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card.vcf"), []byte("BEGIN:VCARD"), 0o600))
	typ, err = Sniff(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, types.TypeContact, typ)

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.eml"), []byte("From: x"), 0o600))
	typ, err = Sniff(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, types.TypeMail, typ)
}

func TestFilterAllow(t *testing.T) {
	f := &Filter{Excludes: []string{"Junk*", "Trash"}}
	assert.True(t, f.Allow("INBOX", types.TypeMail))
	assert.False(t, f.Allow("Junk Email", types.TypeMail))
	assert.False(t, f.Allow("trash", types.TypeMail), "case-insensitive")

	// include list overrides excludes
	f = &Filter{Includes: []string{"Projects/*"}, Excludes: []string{"*"}}
	assert.True(t, f.Allow("Projects/Alpha", types.TypeMail))
	assert.False(t, f.Allow("INBOX", types.TypeMail))

	f = &Filter{TypeFilter: []string{types.TypeEvent}}
	assert.True(t, f.Allow("Calendar", types.TypeEvent))
	assert.False(t, f.Allow("INBOX", types.TypeMail))

	f = &Filter{TypeBlacklist: []string{types.TypeConfiguration}}
	assert.False(t, f.Allow("Configuration", types.TypeConfiguration))
	assert.True(t, f.Allow("INBOX", types.TypeMail))
}
