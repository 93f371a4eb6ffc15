package driver

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/convert"
	"github.com/brandon/mailmigrate/internal/folder"
	"github.com/brandon/mailmigrate/pkg/types"
)

// ArchiveSource exports a staged on-disk tree: directories become
// folders, holding .eml messages, .mbox spools, or extracted .ics/.vcf
// objects.
type ArchiveSource struct {
	root     string
	stageDir string
	cctx     *convert.Context
	logger   *logrus.Logger
}

// NewArchiveSource opens a staged export tree.
func NewArchiveSource(opts *config.Options, logger *logrus.Logger) (*ArchiveSource, error) {
	root := opts.Source.Path
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive path %s is not a directory", root)
	}

	owner := ""
	if opts.Destination != nil {
		owner = opts.Destination.Email()
	}
	return &ArchiveSource{
		root:     root,
		stageDir: opts.StageDir,
		cctx:     &convert.Context{OwnerEmail: owner, Logger: logger},
		logger:   logger,
	}, nil
}

func (s *ArchiveSource) Close() error { return nil }

// Folders walks the tree and maps each directory holding files to a
// destination folder. The top-level export container carries no folder
// information.
func (s *ArchiveSource) Folders() ([]*types.Folder, error) {
	var out []*types.Folder

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		count := 0
		for _, e := range entries {
			if !e.IsDir() {
				count++
			}
		}
		if count == 0 {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		slashed := filepath.ToSlash(rel)

		ftype, err := folder.Sniff(path, s.logger)
		if err != nil {
			return err
		}

		target := "INBOX"
		if rel != "." {
			target = folder.MapMailbox(slashed, 1, "/")
		}

		out = append(out, &types.Folder{
			ID:         path,
			FullName:   slashed,
			Type:       ftype,
			Targetname: target,
			Total:      count,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk archive: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// ListItems lists the folder's files, splitting mbox spools into staged
// single messages.
func (s *ArchiveSource) ListItems(f *types.Folder, existing map[string]*types.ExistingItem) ([]*types.Item, error) {
	entries, err := os.ReadDir(f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder directory: %w", err)
	}

	var out []*types.Item
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(f.ID, e.Name())
		rel := filepath.ToSlash(filepath.Join(f.FullName, e.Name()))
		ext := strings.ToLower(filepath.Ext(e.Name()))

		// the sniffed folder type wins over stray files
		if f.Type != types.TypeMail && ext != ".ics" && ext != ".vcf" {
			continue
		}

		switch ext {
		case ".ics", ".vcf":
			item, err := s.objectItem(f, path, rel, e)
			if err != nil {
				return nil, err
			}
			key := item.UID
			item.Existing = existing[item.ID]
			if item.Existing == nil {
				item.Existing = existing[key]
			}
			out = append(out, item)

		case ".mbox":
			items, err := s.splitMbox(f, path, rel, existing)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)

		default:
			item, err := s.mailItem(f, path, rel, existing)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *ArchiveSource) objectItem(f *types.Folder, path, rel string, e os.DirEntry) (*types.Item, error) {
	info, err := e.Info()
	if err != nil {
		return nil, err
	}

	class := convert.ClassAppointment
	if strings.EqualFold(filepath.Ext(path), ".vcf") {
		class = convert.ClassContact
	} else if head, err := os.ReadFile(path); err == nil && strings.Contains(string(head), "BEGIN:VTODO") {
		class = convert.ClassTask
	}

	name := e.Name()
	uid := strings.TrimSuffix(name, filepath.Ext(name))

	return &types.Item{
		ID:       rel,
		Class:    class,
		UID:      uid,
		Folder:   f,
		Size:     info.Size(),
		Mtime:    info.ModTime(),
		Filename: path,
	}, nil
}

func (s *ArchiveSource) mailItem(f *types.Folder, path, rel string, existing map[string]*types.ExistingItem) (*types.Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	item := &types.Item{
		ID:       rel,
		Class:    convert.ClassNote,
		Folder:   f,
		Size:     info.Size(),
		Date:     info.ModTime(),
		Filename: path,
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s.readMailHeader(item, fh, path)
	fh.Close() //nolint:errcheck

	item.Existing = existing[item.ID]
	if item.Existing == nil && item.MessageID != "" {
		item.Existing = existing[item.MessageID]
	}
	return item, nil
}

// readMailHeader fills identity, date and flags from the message
// header. Exported mail carries mbox-style Status/X-Status markers.
func (s *ArchiveSource) readMailHeader(item *types.Item, r io.Reader, path string) {
	entity, err := message.Read(r)
	if err != nil && entity == nil {
		s.logger.WithError(err).WithField("file", path).Warn("Failed to parse message header")
		return
	}

	header := mail.Header{Header: entity.Header}
	if mid, err := header.MessageID(); err == nil && mid != "" {
		item.MessageID = mid
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		item.Date = date
	}

	if strings.Contains(header.Get("Status"), "R") {
		item.Flags = append(item.Flags, "\\Seen")
	}
	xstatus := header.Get("X-Status")
	if strings.Contains(xstatus, "A") {
		item.Flags = append(item.Flags, "\\Answered")
	}
	if strings.Contains(xstatus, "F") {
		item.Flags = append(item.Flags, "\\Flagged")
	}
	sort.Strings(item.Flags)
}

// splitMbox stages every message of an mbox spool as its own file.
func (s *ArchiveSource) splitMbox(f *types.Folder, path, rel string, existing map[string]*types.ExistingItem) ([]*types.Item, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	staged, err := os.MkdirTemp(s.stageDir, "mbox-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	var out []*types.Item
	mr := mbox.NewReader(fh)
	for i := 0; ; i++ {
		msg, err := mr.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mbox %s: %w", path, err)
		}

		raw, err := io.ReadAll(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to read mbox message: %w", err)
		}

		stagedPath := filepath.Join(staged, fmt.Sprintf("%d.eml", i))
		if err := os.WriteFile(stagedPath, raw, 0600); err != nil {
			return nil, fmt.Errorf("failed to stage mbox message: %w", err)
		}

		item := &types.Item{
			ID:       fmt.Sprintf("%s:%d", rel, i),
			Class:    convert.ClassNote,
			Folder:   f,
			Size:     int64(len(raw)),
			Filename: stagedPath,
		}
		s.readMailHeader(item, bytes.NewReader(raw), stagedPath)
		if item.Existing == nil && item.MessageID != "" {
			item.Existing = existing[item.MessageID]
		}
		out = append(out, item)
	}
	return out, nil
}

// FetchItem loads the payload and runs the class converter, so mail
// gets CRLF normalization and back-reference headers and groupware
// objects their injected markers. Oversized payloads stay staged.
func (s *ArchiveSource) FetchItem(item *types.Item) error {
	if item.Size > types.MaxItemSize {
		return nil
	}

	raw, err := os.ReadFile(item.Filename)
	if err != nil {
		return fmt.Errorf("failed to read archive item: %w", err)
	}
	// messages staged out of an mbox spool are one-shot
	if strings.HasPrefix(item.Filename, s.stageDir) {
		os.Remove(item.Filename) //nolint:errcheck
	}

	// Extracted todos are already in their destination form; the task
	// converter synthesizes from structured fields, not payloads.
	if item.Class == convert.ClassTask {
		item.Content = raw
		item.Filename = ""
		return nil
	}

	conv, err := convert.ForClass(item.Class)
	if err != nil {
		return err
	}
	payload, err := conv.Convert(&convert.Source{
		ItemID: item.ID,
		Class:  item.Class,
		UID:    item.UID,
		Mime:   raw,
	}, s.cctx)
	if err != nil {
		return err
	}

	item.Content = payload
	item.Size = int64(len(payload))
	item.Filename = ""
	return nil
}
