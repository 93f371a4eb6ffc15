package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmigrate/internal/files"
	"github.com/brandon/mailmigrate/internal/imapx"
	"github.com/brandon/mailmigrate/pkg/types"
)

func TestIdentityOf(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	withID := &imapx.IndexEntry{MessageID: "msg1@example.org", From: "a@b", Date: date}
	assert.Equal(t, "msg1@example.org", identityOf(withID))

	// the digest fallback is stable and ignores the UID
	a := &imapx.IndexEntry{UID: 5, From: "a@b", Date: date}
	b := &imapx.IndexEntry{UID: 9, From: "a@b", Date: date}
	assert.Equal(t, identityOf(a), identityOf(b))
	assert.Len(t, identityOf(a), 32)

	c := &imapx.IndexEntry{From: "other@b", Date: date}
	assert.NotEqual(t, identityOf(a), identityOf(c))
}

func TestUidOf(t *testing.T) {
	uid, err := uidOf("42:msg1@example.org")
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), uid)

	_, err = uidOf("not-a-uid:x")
	assert.Error(t, err)
}

func TestUnchanged(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mailFolder := &types.Folder{Type: types.TypeMail}

	item := &types.Item{
		Folder: mailFolder,
		Size:   100,
		Date:   date,
		Flags:  []string{"\\Seen"},
	}

	assert.False(t, Unchanged(item), "no destination copy")

	item.Existing = &types.ExistingItem{Size: 100, Date: date, Flags: []string{"\\Seen"}}
	assert.True(t, Unchanged(item))

	item.Existing.Size = 99
	assert.False(t, Unchanged(item), "size changed")

	item.Existing.Size = 100
	item.Existing.Flags = []string{"\\Flagged"}
	assert.False(t, Unchanged(item), "flags changed")

	// a matching recorded source id wins over content comparison
	ews := &types.Item{
		ID:       "AAA!ck1",
		Folder:   &types.Folder{Type: types.TypeEvent},
		Existing: &types.ExistingItem{SourceID: "AAA!ck1"},
	}
	assert.True(t, Unchanged(ews))

	ews.ID = "AAA!ck2"
	assert.False(t, Unchanged(ews), "change key moved")

	// groupware items without a recorded source id always restore
	dav := &types.Item{
		Folder:   &types.Folder{Type: types.TypeContact},
		Existing: &types.ExistingItem{UID: "u1"},
	}
	assert.False(t, Unchanged(dav))
}

func TestFilterIndex(t *testing.T) {
	index := []*imapx.IndexEntry{{UID: 1}, {UID: 2}, {UID: 3}}

	got := filterIndex(index, []uint32{3, 1})
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].UID)
	assert.Equal(t, uint32(3), got[1].UID)

	// an empty search result means nothing in the folder migrates
	assert.Empty(t, filterIndex(index, nil))
}

func TestKolabTypeMarkers(t *testing.T) {
	assert.Equal(t, files.KolabFileType, kolabTypeMarkers[types.TypeFile])
	assert.Equal(t, "application/x-vnd.kolab.configuration", kolabTypeMarkers[types.TypeConfiguration])
	assert.Empty(t, kolabTypeMarkers[types.TypeMail], "mail folders index every message")
	assert.Empty(t, kolabTypeMarkers[types.TypeEvent], "groupware folders migrate verbatim")
}

func TestInSkippedNamespace(t *testing.T) {
	assert.True(t, inSkippedNamespace("Shared Folders/team", "/"))
	assert.True(t, inSkippedNamespace("Other Users", "/"))
	assert.True(t, inSkippedNamespace("Other Users.john", "."))
	assert.False(t, inSkippedNamespace("INBOX/Shared Folders", "/"))
	assert.False(t, inSkippedNamespace("Projects", "/"))
}
