package driver

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/pkg/types"
)

// fileMessage builds a legacy file message; date may be empty.
func fileMessage(date string) []byte {
	lines := []string{
		"From: john@example.org",
		"X-Kolab-Type: application/x-vnd.kolab.file",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=BOUND",
		"",
		"--BOUND",
		"Content-Type: text/plain",
		"",
		"This is a Kolab Groupware object.",
		"--BOUND",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=report.pdf",
		"",
		"%PDF-1.4 payload",
		"--BOUND--",
		"",
	}
	if date != "" {
		lines = append([]string{"Date: " + date}, lines...)
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func testKolabFiles(t *testing.T) *KolabDestination {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	d := &KolabDestination{
		opts:     &config.Options{StorePath: filepath.Join(t.TempDir(), "files.db")},
		logger:   logger,
		fileCols: make(map[string]string),
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestKolabStoreFile(t *testing.T) {
	d := testKolabFiles(t)
	f := &types.Folder{Type: types.TypeFile, Targetname: "Files"}
	require.NoError(t, d.CreateFolder(f))

	item := &types.Item{
		ID:      "file-1",
		Folder:  f,
		Content: fileMessage("Wed, 01 May 2024 12:00:00 +0000"),
	}
	require.NoError(t, d.Store(item))

	entry, err := d.store.FindFile(d.fileCols["Files"], "report.pdf")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix(), entry.Mtime.Unix())
}

func TestKolabStoreFileDateFallback(t *testing.T) {
	d := testKolabFiles(t)
	f := &types.Folder{Type: types.TypeFile, Targetname: "Files"}
	require.NoError(t, d.CreateFolder(f))

	internal := time.Date(2024, 6, 2, 9, 30, 0, 0, time.UTC)
	item := &types.Item{
		ID:      "file-2",
		Folder:  f,
		Date:    internal,
		Content: fileMessage(""),
	}
	require.NoError(t, d.Store(item))

	// the internal date stands in for the missing Date header, so a
	// second run sees the stored copy as unchanged
	entry, err := d.store.FindFile(d.fileCols["Files"], "report.pdf")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, internal.Unix(), entry.Mtime.Unix())
}
