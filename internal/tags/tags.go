// Package tags migrates Kolab tag (relation) objects: the tag registry
// kept in folder metadata and the per-message membership kept in IMAP
// annotations.
package tags

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/pkg/types"
)

const (
	// RelationType is the X-Kolab-Type header value of relation
	// (tag) objects in the source configuration folder.
	RelationType = "application/x-vnd.kolab.configuration.relation"

	// MetadataRoot is the mailbox carrying the tag registry.
	MetadataRoot = "INBOX"
	// MetadataKey is the metadata entry holding the registry JSON.
	MetadataKey = "/private/vendor/kolab/tags/v1"
	// AnnotationPrefix prefixes the per-message membership annotation.
	AnnotationPrefix = "/vendor/kolab/tag/v1/"

	// maxSearchLen bounds the byte length of one SEARCH command when
	// membership is resolved by Message-ID.
	maxSearchLen = 65536
)

// Def is one registry entry in the metadata JSON.
type Def struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Mtime string `json:"last-modification-date,omitempty"`
}

// relationXML is the groupware configuration object payload.
type relationXML struct {
	XMLName      xml.Name `xml:"configuration"`
	Type         string   `xml:"type"`
	RelationType string   `xml:"relationType"`
	Name         string   `xml:"name"`
	Color        string   `xml:"color"`
	Mtime        string   `xml:"last-modification-date"`
	Members      []string `xml:"member"`
}

// ParseRelation extracts a tag from a relation message: a MIME mail
// with the configuration XML attached as a groupware part.
func ParseRelation(raw []byte) (*types.Tag, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relation message: %w", err)
	}

	var payload []byte
	for _, p := range append(env.Attachments, env.OtherParts...) {
		if strings.Contains(p.ContentType, "kolab+xml") {
			payload = p.Content
			break
		}
	}
	if payload == nil {
		return nil, fmt.Errorf("relation message has no configuration part")
	}

	var rel relationXML
	if err := xml.Unmarshal(payload, &rel); err != nil {
		return nil, fmt.Errorf("failed to parse relation object: %w", err)
	}
	if rel.RelationType != "" && rel.RelationType != "tag" {
		return nil, fmt.Errorf("not a tag relation: %s", rel.RelationType)
	}
	if rel.Name == "" {
		return nil, fmt.Errorf("tag relation without a name")
	}

	return &types.Tag{
		Name:    rel.Name,
		Color:   rel.Color,
		Mtime:   rel.Mtime,
		Members: rel.Members,
	}, nil
}

// ParseMemberURL decodes one member URL of the form
// imap:///user/<user>/<folder...>/<uid>?message-id=<id>. Members in
// the shared namespace and members without a message id resolve to
// ok=false. An empty folder path means the inbox.
func ParseMemberURL(raw string) (folder, messageID string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "imap" {
		return "", "", false
	}

	messageID = u.Query().Get("message-id")
	if messageID == "" {
		return "", "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "user" {
		return "", "", false
	}

	// parts: user / <username> / folder segments... / <uid>
	segments := parts[2 : len(parts)-1]
	for i, s := range segments {
		if dec, err := url.PathUnescape(s); err == nil {
			segments[i] = dec
		}
	}

	folder = strings.Join(segments, "/")
	if folder == "" {
		folder = "INBOX"
	}
	return folder, messageID, true
}

// Merge folds source tags into the registry. It returns the updated
// registry, and the tags whose membership needs (re)applying: new tags
// and tags whose modification time moved. Unchanged tags are skipped
// entirely.
func Merge(defs []Def, tags []*types.Tag) ([]Def, []*types.Tag, bool) {
	byName := make(map[string]int, len(defs))
	for i, d := range defs {
		byName[d.Name] = i
	}

	var apply []*types.Tag
	changed := false

	for _, tag := range tags {
		if i, ok := byName[tag.Name]; ok {
			if defs[i].Mtime == tag.Mtime && tag.Mtime != "" {
				continue
			}
			defs[i].Color = tag.Color
			defs[i].Mtime = tag.Mtime
			changed = true
			apply = append(apply, tag)
			continue
		}
		defs = append(defs, Def{Name: tag.Name, Color: tag.Color, Mtime: tag.Mtime})
		byName[tag.Name] = len(defs) - 1
		changed = true
		apply = append(apply, tag)
	}

	return defs, apply, changed
}

// Batches splits Message-ID values into groups whose OR-joined SEARCH
// command stays under the server's command length ceiling.
func Batches(ids []string) [][]string {
	var out [][]string
	var batch []string
	// fixed command overhead: tag, UID SEARCH, NOT DELETED, CRLF
	length := 100

	for _, id := range ids {
		// per-term cost: OR prefix plus HEADER MESSAGE-ID <id>
		cost := len(id) + 25
		if len(batch) > 0 && length+cost > maxSearchLen {
			out = append(out, batch)
			batch = nil
			length = 100
		}
		batch = append(batch, id)
		length += cost
	}
	if len(batch) > 0 {
		out = append(out, batch)
	}
	return out
}

// Client is the destination surface the resolver drives.
type Client interface {
	GetMetadata(mailbox string, entries []string) (map[string]string, error)
	SetMetadata(mailbox string, entries map[string]string) error
	SearchMessageIDs(folder string, ids []string) ([]uint32, error)
	SetAnnotation(folder string, uids []uint32, entry, value string) error
}

// Resolver applies source tags to the destination.
type Resolver struct {
	client Client
	logger *logrus.Logger
}

// NewResolver builds a resolver over a destination client.
func NewResolver(client Client, logger *logrus.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Sync merges tag definitions into the destination registry and
// annotates member messages. The registry update is a read-modify-write
// on a single metadata value; concurrent writers can lose entries.
func (r *Resolver) Sync(tags []*types.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	meta, err := r.client.GetMetadata(MetadataRoot, []string{MetadataKey})
	if err != nil {
		return fmt.Errorf("failed to read tag registry: %w", err)
	}

	var defs []Def
	if raw := meta[MetadataKey]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &defs); err != nil {
			return fmt.Errorf("failed to parse tag registry: %w", err)
		}
	}

	defs, apply, changed := Merge(defs, tags)
	if changed {
		blob, err := json.Marshal(defs)
		if err != nil {
			return fmt.Errorf("failed to serialize tag registry: %w", err)
		}
		if err := r.client.SetMetadata(MetadataRoot, map[string]string{MetadataKey: string(blob)}); err != nil {
			return fmt.Errorf("failed to write tag registry: %w", err)
		}
	}

	for _, tag := range apply {
		if err := r.applyMembers(tag); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) applyMembers(tag *types.Tag) error {
	byFolder := make(map[string][]string)
	for _, member := range tag.Members {
		folder, id, ok := ParseMemberURL(member)
		if !ok {
			r.logger.WithFields(logrus.Fields{
				"tag":    tag.Name,
				"member": member,
			}).Debug("Skipping unresolvable tag member")
			continue
		}
		byFolder[folder] = append(byFolder[folder], id)
	}

	folders := make([]string, 0, len(byFolder))
	for f := range byFolder {
		folders = append(folders, f)
	}
	sort.Strings(folders)

	for _, folder := range folders {
		seen := make(map[uint32]bool)
		var uids []uint32
		for _, batch := range Batches(byFolder[folder]) {
			found, err := r.client.SearchMessageIDs(folder, batch)
			if err != nil {
				return fmt.Errorf("failed to resolve tag members in %s: %w", folder, err)
			}
			for _, uid := range found {
				if !seen[uid] {
					seen[uid] = true
					uids = append(uids, uid)
				}
			}
		}
		if len(uids) == 0 {
			continue
		}

		entry := AnnotationPrefix + tag.Name
		if err := r.client.SetAnnotation(folder, uids, entry, "1"); err != nil {
			return fmt.Errorf("failed to annotate tag members in %s: %w", folder, err)
		}

		r.logger.WithFields(logrus.Fields{
			"tag":      tag.Name,
			"folder":   folder,
			"messages": len(uids),
		}).Info("Tagged messages")
	}
	return nil
}
