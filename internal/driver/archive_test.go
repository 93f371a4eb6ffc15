package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/pkg/types"
)

func writeArchiveFile(t *testing.T, root string, parts ...string) {
	t.Helper()
	path := filepath.Join(root, filepath.Join(parts[:len(parts)-1]...))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(parts[len(parts)-1]), 0600))
}

func testArchive(t *testing.T) *ArchiveSource {
	t.Helper()
	root := t.TempDir()

	mail := strings.Join([]string{
		"From: alec@example.org",
		"Date: Wed, 01 May 2024 12:00:00 +0000",
		"Message-ID: <b@example.org>",
		"Status: RO",
		"X-Status: F",
		"Subject: hello",
		"",
		"body",
		"",
	}, "\n")
	spool := strings.Join([]string{
		"From alec@example.org Wed May  1 12:00:00 2024",
		"From: alec@example.org",
		"Message-ID: <m0@example.org>",
		"Subject: first",
		"",
		"one",
		"",
		"From alec@example.org Wed May  1 13:00:00 2024",
		"From: alec@example.org",
		"Message-ID: <m1@example.org>",
		"Subject: second",
		"",
		"two",
		"",
	}, "\n")

	writeArchiveFile(t, root, "Export", "Inbox", "a.eml", mail)
	writeArchiveFile(t, root, "Export", "Projects", "b.eml", mail)
	writeArchiveFile(t, root, "Export", "Projects", "old.mbox", spool)
	writeArchiveFile(t, root, "Export", "Calendar", "ev1.ics",
		"BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:ev1\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	opts := &config.Options{
		Source:   &types.Account{Scheme: "archive", Path: root},
		StageDir: t.TempDir(),
	}
	src, err := NewArchiveSource(opts, logger)
	require.NoError(t, err)
	return src
}

func TestArchiveFolders(t *testing.T) {
	src := testArchive(t)

	folders, err := src.Folders()
	require.NoError(t, err)
	require.Len(t, folders, 3)

	assert.Equal(t, "Calendar", folders[0].Targetname)
	assert.Equal(t, types.TypeEvent, folders[0].Type)

	// the export container is dropped and the inbox maps to INBOX
	assert.Equal(t, "INBOX", folders[1].Targetname)
	assert.Equal(t, types.TypeMail, folders[1].Type)

	assert.Equal(t, "Projects", folders[2].Targetname)
	assert.Equal(t, 2, folders[2].Total)
}

func TestArchiveListItemsMail(t *testing.T) {
	src := testArchive(t)
	folders, err := src.Folders()
	require.NoError(t, err)

	projects := folders[2]
	items, err := src.ListItems(projects, nil)
	require.NoError(t, err)
	require.Len(t, items, 3, "one eml plus two mbox messages")

	eml := items[0]
	assert.Equal(t, "b@example.org", eml.MessageID)
	assert.Equal(t, []string{"\\Flagged", "\\Seen"}, eml.Flags)

	assert.Equal(t, "m0@example.org", items[1].MessageID)
	assert.Equal(t, "m1@example.org", items[2].MessageID)
	assert.FileExists(t, items[1].Filename)
}

func TestArchiveListItemsAttachesExisting(t *testing.T) {
	src := testArchive(t)
	folders, err := src.Folders()
	require.NoError(t, err)

	existing := map[string]*types.ExistingItem{
		"b@example.org": {ImapUID: 7},
	}
	items, err := src.ListItems(folders[2], existing)
	require.NoError(t, err)
	require.NotNil(t, items[0].Existing)
	assert.Equal(t, uint32(7), items[0].Existing.ImapUID)
	assert.Nil(t, items[1].Existing)
}

func TestArchiveFetchItemMail(t *testing.T) {
	src := testArchive(t)
	folders, err := src.Folders()
	require.NoError(t, err)

	items, err := src.ListItems(folders[1], nil)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, src.FetchItem(items[0]))
	content := string(items[0].Content)
	assert.Contains(t, content, "Subject: hello\r\n", "line endings normalized")
	assert.Contains(t, content, "X-MS-ID: "+items[0].ID)
}

func TestArchiveFetchItemEvent(t *testing.T) {
	src := testArchive(t)
	folders, err := src.Folders()
	require.NoError(t, err)

	items, err := src.ListItems(folders[0], nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ev1", items[0].UID)

	require.NoError(t, src.FetchItem(items[0]))
	content := string(items[0].Content)
	assert.Contains(t, content, "BEGIN:VEVENT\r\nX-MS-ID:")
	assert.Contains(t, content, "UID:ev1")
}
