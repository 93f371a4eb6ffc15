package tags

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmigrate/pkg/types"
)

type fakeClient struct {
	metadata    map[string]string
	setMetadata map[string]string
	uidsByID    map[string][]uint32
	searches    [][]string
	annotations []annotation
}

type annotation struct {
	folder string
	uids   []uint32
	entry  string
	value  string
}

func (f *fakeClient) GetMetadata(mailbox string, entries []string) (map[string]string, error) {
	return f.metadata, nil
}

func (f *fakeClient) SetMetadata(mailbox string, entries map[string]string) error {
	f.setMetadata = entries
	return nil
}

func (f *fakeClient) SearchMessageIDs(folder string, ids []string) ([]uint32, error) {
	f.searches = append(f.searches, ids)
	var uids []uint32
	for _, id := range ids {
		uids = append(uids, f.uidsByID[folder+"|"+id]...)
	}
	return uids, nil
}

func (f *fakeClient) SetAnnotation(folder string, uids []uint32, entry, value string) error {
	f.annotations = append(f.annotations, annotation{folder, uids, entry, value})
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestParseRelation(t *testing.T) {
	raw := strings.Join([]string{
		"From: john@example.org",
		"X-Kolab-Type: " + RelationType,
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=BOUND",
		"",
		"--BOUND",
		"Content-Type: text/plain",
		"",
		"This is a Kolab Groupware object.",
		"--BOUND",
		"Content-Type: application/x-vnd.kolab+xml; name=kolab.xml",
		"Content-Disposition: attachment; filename=kolab.xml",
		"",
		`<configuration xmlns="http://kolab.org" version="3.0">`,
		"  <uid>ABC</uid>",
		"  <type>relation</type>",
		"  <relationType>tag</relationType>",
		"  <name>Important</name>",
		"  <color>#ff0000</color>",
		"  <last-modification-date>2024-05-01T12:00:00Z</last-modification-date>",
		"  <member>imap:///user/john%40example.org/INBOX/5?message-id=%3Ca%40b%3E</member>",
		"</configuration>",
		"--BOUND--",
		"",
	}, "\r\n")

	tag, err := ParseRelation([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Important", tag.Name)
	assert.Equal(t, "#ff0000", tag.Color)
	assert.Equal(t, "2024-05-01T12:00:00Z", tag.Mtime)
	require.Len(t, tag.Members, 1)
}

func TestParseRelationNotATag(t *testing.T) {
	raw := strings.Join([]string{
		"Content-Type: multipart/mixed; boundary=B",
		"",
		"--B",
		"Content-Type: application/x-vnd.kolab+xml; name=kolab.xml",
		"Content-Disposition: attachment; filename=kolab.xml",
		"",
		"<configuration><relationType>generic</relationType><name>x</name></configuration>",
		"--B--",
		"",
	}, "\r\n")

	_, err := ParseRelation([]byte(raw))
	assert.Error(t, err)
}

func TestParseMemberURL(t *testing.T) {
	folder, id, ok := ParseMemberURL(
		"imap:///user/john%40example.org/Work%2FReports/12?message-id=%3Cmsg1%40example.org%3E")
	require.True(t, ok)
	assert.Equal(t, "Work/Reports", folder)
	assert.Equal(t, "<msg1@example.org>", id)

	// messages directly in the mailbox root belong to the inbox
	folder, id, ok = ParseMemberURL(
		"imap:///user/john%40example.org/5?message-id=%3Cmsg2%40example.org%3E")
	require.True(t, ok)
	assert.Equal(t, "INBOX", folder)
	assert.Equal(t, "<msg2@example.org>", id)

	// shared namespace is not migrated
	_, _, ok = ParseMemberURL("imap:///shared/Resources/1?message-id=%3Cx%3E")
	assert.False(t, ok)

	// a member without a message id cannot be resolved
	_, _, ok = ParseMemberURL("imap:///user/john%40example.org/INBOX/5")
	assert.False(t, ok)

	_, _, ok = ParseMemberURL("mailto:john@example.org")
	assert.False(t, ok)
}

func TestMerge(t *testing.T) {
	defs := []Def{
		{Name: "Work", Color: "#00ff00", Mtime: "2024-01-01T00:00:00Z"},
		{Name: "Stale", Color: "#0000ff", Mtime: "2024-01-01T00:00:00Z"},
	}
	tags := []*types.Tag{
		{Name: "Work", Color: "#00ff00", Mtime: "2024-01-01T00:00:00Z"},
		{Name: "Stale", Color: "#ffffff", Mtime: "2024-02-02T00:00:00Z"},
		{Name: "New", Color: "#ff0000", Mtime: "2024-03-03T00:00:00Z"},
	}

	merged, apply, changed := Merge(defs, tags)
	assert.True(t, changed)
	require.Len(t, merged, 3)
	assert.Equal(t, "#ffffff", merged[1].Color)
	assert.Equal(t, "2024-02-02T00:00:00Z", merged[1].Mtime)

	require.Len(t, apply, 2, "unchanged tag skipped")
	assert.Equal(t, "Stale", apply[0].Name)
	assert.Equal(t, "New", apply[1].Name)
}

func TestMergeNoChanges(t *testing.T) {
	defs := []Def{{Name: "Work", Mtime: "2024-01-01T00:00:00Z"}}
	_, apply, changed := Merge(defs, []*types.Tag{{Name: "Work", Mtime: "2024-01-01T00:00:00Z"}})
	assert.False(t, changed)
	assert.Empty(t, apply)
}

func TestBatches(t *testing.T) {
	id := "<" + strings.Repeat("x", 1000) + "@example.org>"
	var ids []string
	for i := 0; i < 100; i++ {
		ids = append(ids, id)
	}

	batches := Batches(ids)
	require.Greater(t, len(batches), 1)

	total := 0
	for _, b := range batches {
		total += len(b)
		length := 100
		for _, v := range b {
			length += len(v) + 25
		}
		assert.LessOrEqual(t, length, maxSearchLen)
	}
	assert.Equal(t, len(ids), total)

	assert.Len(t, Batches([]string{"<a@b>"}), 1)
	assert.Empty(t, Batches(nil))
}

func TestSync(t *testing.T) {
	client := &fakeClient{
		metadata: map[string]string{
			MetadataKey: `[{"name":"Work","color":"#00ff00","last-modification-date":"2024-01-01T00:00:00Z"}]`,
		},
		uidsByID: map[string][]uint32{
			"INBOX|<a@example.org>":        {7},
			"INBOX|<b@example.org>":        {9},
			"Work/Reports|<c@example.org>": {3},
		},
	}

	tags := []*types.Tag{
		{
			Name:  "Important",
			Color: "#ff0000",
			Mtime: "2024-05-01T12:00:00Z",
			Members: []string{
				"imap:///user/john%40example.org/5?message-id=%3Ca%40example.org%3E",
				"imap:///user/john%40example.org/6?message-id=%3Cb%40example.org%3E",
				// duplicate member must not produce duplicate UIDs
				"imap:///user/john%40example.org/7?message-id=%3Ca%40example.org%3E",
				"imap:///user/john%40example.org/Work%2FReports/1?message-id=%3Cc%40example.org%3E",
				"imap:///shared/Resources/1?message-id=%3Cskip%3E",
			},
		},
		{Name: "Work", Color: "#00ff00", Mtime: "2024-01-01T00:00:00Z"},
	}

	r := NewResolver(client, testLogger())
	require.NoError(t, r.Sync(tags))

	require.NotNil(t, client.setMetadata)
	blob := client.setMetadata[MetadataKey]
	assert.Contains(t, blob, `"name":"Important"`)
	assert.Contains(t, blob, `"name":"Work"`)

	// the unchanged Work tag triggers no membership resolution
	require.Len(t, client.annotations, 2)
	assert.Equal(t, "INBOX", client.annotations[0].folder)
	assert.Equal(t, AnnotationPrefix+"Important", client.annotations[0].entry)
	assert.Equal(t, "1", client.annotations[0].value)
	assert.Equal(t, []uint32{7, 9}, client.annotations[0].uids)
	assert.Equal(t, "Work/Reports", client.annotations[1].folder)
	assert.Equal(t, []uint32{3}, client.annotations[1].uids)
}

func TestSyncEmpty(t *testing.T) {
	client := &fakeClient{}
	r := NewResolver(client, testLogger())
	require.NoError(t, r.Sync(nil))
	assert.Nil(t, client.setMetadata)
	assert.Empty(t, client.annotations)
}
