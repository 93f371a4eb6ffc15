package driver

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/convert"
	"github.com/brandon/mailmigrate/internal/files"
	"github.com/brandon/mailmigrate/internal/folder"
	"github.com/brandon/mailmigrate/internal/imapx"
	"github.com/brandon/mailmigrate/pkg/types"
)

// Folder-type metadata entries Kolab servers annotate mailboxes with.
const (
	folderTypePrivate = "/private/vendor/kolab/folder-type"
	folderTypeShared  = "/shared/vendor/kolab/folder-type"
)

// Namespace prefixes that never migrate.
var skippedNamespaces = []string{"Shared Folders", "Other Users"}

// X-Kolab-Type markers for folders whose migratable content is a
// subset of the mailbox. File and configuration folders carry other
// object kinds and deleted-flagged copies next to the objects that
// move; only messages matching the marker are listed.
var kolabTypeMarkers = map[string]string{
	types.TypeFile:          files.KolabFileType,
	types.TypeConfiguration: "application/x-vnd.kolab.configuration",
}

// identityOf returns the cross-server identity of an indexed message:
// its Message-ID, or a digest of sender and date when the header is
// missing. The internal date survives migration because appends carry
// it, so the digest is stable across runs.
func identityOf(e *imapx.IndexEntry) string {
	if e.MessageID != "" {
		return e.MessageID
	}
	sum := md5.Sum([]byte(e.From + e.Date.Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}

// uidOf extracts the numeric UID from a "uid:identity" item id.
func uidOf(itemID string) (uint32, error) {
	s, _, _ := strings.Cut(itemID, ":")
	uid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed item id %s: %w", itemID, err)
	}
	return uint32(uid), nil
}

// IMAPSource exports from an IMAP or legacy Kolab account.
type IMAPSource struct {
	client   *imapx.Client
	account  *types.Account
	stageDir string
	typed    bool
	logger   *logrus.Logger
}

// NewIMAPSource connects the source account. The kolab scheme reads
// folder types from Kolab mailbox annotations; plain IMAP folders are
// all mail.
func NewIMAPSource(opts *config.Options, logger *logrus.Logger) (*IMAPSource, error) {
	cl, err := imapx.Dial(opts.Source, logger)
	if err != nil {
		return nil, err
	}
	return &IMAPSource{
		client:   cl,
		account:  opts.Source,
		stageDir: opts.StageDir,
		typed:    opts.Source.Scheme == "kolab",
		logger:   logger,
	}, nil
}

func (s *IMAPSource) Close() error { return s.client.Close() }

// Folders lists the source mailboxes with their destination mapping.
// Shared namespaces are skipped.
func (s *IMAPSource) Folders() ([]*types.Folder, error) {
	names, err := s.client.ListFolders()
	if err != nil {
		return nil, err
	}
	delim := s.client.Delimiter()

	var out []*types.Folder
	for _, name := range names {
		if inSkippedNamespace(name, delim) {
			continue
		}

		ftype := types.TypeMail
		if s.typed {
			ftype, err = s.folderType(name)
			if err != nil {
				return nil, err
			}
		}

		total, err := s.client.CountMessages(name)
		if err != nil {
			return nil, err
		}

		canonical := strings.ReplaceAll(name, delim, "/")
		out = append(out, &types.Folder{
			ID:         name,
			FullName:   canonical,
			Type:       ftype,
			Targetname: folder.MapMailbox(canonical, 0, "/"),
			Total:      total,
		})
	}
	return out, nil
}

// filterIndex keeps the index entries whose UID the search matched,
// preserving index order.
func filterIndex(index []*imapx.IndexEntry, uids []uint32) []*imapx.IndexEntry {
	keep := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		keep[uid] = true
	}
	out := make([]*imapx.IndexEntry, 0, len(uids))
	for _, e := range index {
		if keep[e.UID] {
			out = append(out, e)
		}
	}
	return out
}

func inSkippedNamespace(name, delim string) bool {
	for _, ns := range skippedNamespaces {
		if name == ns || strings.HasPrefix(name, ns+delim) {
			return true
		}
	}
	return false
}

// folderType reads the Kolab folder-type annotation. The value may
// carry a subtype suffix (mail.inbox, event.default) which is dropped.
func (s *IMAPSource) folderType(name string) (string, error) {
	meta, err := s.client.GetMetadata(name, []string{folderTypePrivate, folderTypeShared})
	if err != nil {
		return "", fmt.Errorf("failed to read folder type of %s: %w", name, err)
	}
	value := meta[folderTypePrivate]
	if value == "" {
		value = meta[folderTypeShared]
	}
	if value == "" {
		return types.TypeMail, nil
	}
	base, _, _ := strings.Cut(value, ".")
	return base, nil
}

// ListItems indexes a mailbox and attaches destination state to each
// message by identity. Typed folders with a content marker are
// narrowed to the messages a marker search matches.
func (s *IMAPSource) ListItems(f *types.Folder, existing map[string]*types.ExistingItem) ([]*types.Item, error) {
	index, err := s.client.FetchIndex(f.ID)
	if err != nil {
		return nil, err
	}

	if marker := kolabTypeMarkers[f.Type]; marker != "" {
		uids, err := s.client.SearchHeader(f.ID, "X-Kolab-Type", marker)
		if err != nil {
			return nil, err
		}
		index = filterIndex(index, uids)
	}

	items := make([]*types.Item, 0, len(index))
	for _, e := range index {
		key := identityOf(e)
		items = append(items, &types.Item{
			ID:        e.ID(f.FullName),
			Class:     convert.ClassNote,
			Folder:    f,
			Existing:  existing[key],
			MessageID: key,
			Date:      e.Date,
			Size:      int64(e.Size),
			Flags:     e.Flags,
		})
	}
	return items, nil
}

// FetchItem loads the raw message, staging oversized payloads on disk.
func (s *IMAPSource) FetchItem(item *types.Item) error {
	uid, err := uidOf(item.ID)
	if err != nil {
		return err
	}
	content, filename, err := s.client.FetchMessage(item.Folder.ID, uid, item.Size, s.stageDir)
	if err != nil {
		return err
	}
	item.Content = content
	item.Filename = filename
	return nil
}

// IMAPDestination imports into an IMAP account.
type IMAPDestination struct {
	client *imapx.Client
	opts   *config.Options
	logger *logrus.Logger
}

// NewIMAPDestination connects the destination account and primes the
// hierarchy delimiter.
func NewIMAPDestination(acct *types.Account, opts *config.Options, logger *logrus.Logger) (*IMAPDestination, error) {
	cl, err := imapx.Dial(acct, logger)
	if err != nil {
		return nil, err
	}
	if _, err := cl.ListFolders(); err != nil {
		cl.Close() //nolint:errcheck
		return nil, err
	}
	return &IMAPDestination{client: cl, opts: opts, logger: logger}, nil
}

func (d *IMAPDestination) Close() error { return d.client.Close() }

// Client exposes the underlying connection for extensions that operate
// on the same destination (tag annotations).
func (d *IMAPDestination) Client() *imapx.Client { return d.client }

func (d *IMAPDestination) mailboxName(f *types.Folder) string {
	if f.Targetname == "" {
		return "INBOX"
	}
	return strings.ReplaceAll(f.Targetname, "/", d.client.Delimiter())
}

// CreateFolder ensures the destination mailbox exists, annotates its
// Kolab folder type, and honors clear-target and subscribe.
func (d *IMAPDestination) CreateFolder(f *types.Folder) error {
	name := d.mailboxName(f)
	if name != "INBOX" {
		if err := d.client.CreateFolder(name); err != nil {
			return err
		}
	}

	if f.Type != types.TypeMail {
		err := d.client.SetMetadata(name, map[string]string{folderTypePrivate: f.Type})
		if err != nil {
			d.logger.WithError(err).WithField("folder", name).
				Warn("Failed to set folder type annotation")
		}
	}

	if d.opts.ClearTarget {
		if err := d.client.ClearFolder(name); err != nil {
			return err
		}
	}
	if d.opts.Subscribe {
		if err := d.client.Subscribe(name); err != nil {
			return err
		}
	}
	return nil
}

// Existing indexes the destination mailbox keyed by source identity:
// the recorded X-MS-ID when present, otherwise the message identity.
func (d *IMAPDestination) Existing(f *types.Folder) (map[string]*types.ExistingItem, error) {
	index, err := d.client.FetchIndex(d.mailboxName(f))
	if err != nil {
		return nil, err
	}

	out := make(map[string]*types.ExistingItem, len(index))
	for _, e := range index {
		key := e.SourceID
		if key == "" {
			key = identityOf(e)
		}
		out[key] = &types.ExistingItem{
			ImapUID:  e.UID,
			Size:     int64(e.Size),
			Date:     e.Date,
			Flags:    e.Flags,
			SourceID: e.SourceID,
		}
	}
	return out, nil
}

// Store appends the message. When only the flags changed the stored
// copy is kept and its flags rewritten; a superseded copy is deleted
// after the replacement lands.
func (d *IMAPDestination) Store(item *types.Item) error {
	name := d.mailboxName(item.Folder)

	if ex := item.Existing; ex != nil && ex.ImapUID != 0 &&
		ex.Size == item.Size && ex.Date.Equal(item.Date) {
		return d.client.ReplaceFlags(name, ex.ImapUID, item.Flags)
	}

	date := item.Date
	if date.IsZero() {
		date = time.Now()
	}

	var literal = imapx.Literal(item.Content)
	if item.Content == nil && item.Filename != "" {
		lit, closer, err := imapx.FileLiteral(item.Filename)
		if err != nil {
			return fmt.Errorf("failed to open staged message: %w", err)
		}
		defer closer.Close()
		literal = lit
	}

	if err := d.client.Append(name, item.Flags, date, literal); err != nil {
		return err
	}

	if ex := item.Existing; ex != nil && ex.ImapUID != 0 {
		if err := d.client.DeleteMessage(name, ex.ImapUID); err != nil {
			return err
		}
	}
	return nil
}
