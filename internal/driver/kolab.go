package driver

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/files"
	"github.com/brandon/mailmigrate/internal/tags"
	"github.com/brandon/mailmigrate/pkg/types"
)

// KolabDestination is the composite destination: mail over IMAP,
// groupware objects over DAV, files into the local object store, and
// tag relations into IMAP metadata and annotations.
type KolabDestination struct {
	imap *IMAPDestination
	dav  *DAVDestination

	opts   *config.Options
	logger *logrus.Logger

	// rawGroupware is set when the source delivers groupware folders as
	// plain messages (legacy Kolab over IMAP); they then migrate
	// verbatim over IMAP with their folder-type annotation instead of
	// being converted for DAV.
	rawGroupware bool

	store    *files.Store
	fileCols map[string]string

	tags []*types.Tag
}

// NewKolabDestination wires up the transports named by --imap-uri and
// --dav-uri. Either may be absent; folders needing the missing
// transport are reported as unsupported.
func NewKolabDestination(opts *config.Options, logger *logrus.Logger) (*KolabDestination, error) {
	d := &KolabDestination{
		opts:     opts,
		logger:   logger,
		fileCols: make(map[string]string),
	}
	if opts.Source != nil {
		switch opts.Source.Scheme {
		case "imap", "imaps", "kolab":
			d.rawGroupware = true
		}
	}

	if opts.IMAPURI != "" {
		acct, err := config.ParseAccount(opts.IMAPURI, "MIGRATE_DEST_PASSWORD")
		if err != nil {
			return nil, fmt.Errorf("invalid --imap-uri: %w", err)
		}
		if acct.Password == "" && opts.Destination != nil {
			acct.Password = opts.Destination.Password
		}
		d.imap, err = NewIMAPDestination(acct, opts, logger)
		if err != nil {
			return nil, err
		}
	}

	if opts.DAVURI != "" {
		acct, err := config.ParseAccount(opts.DAVURI, "MIGRATE_DEST_PASSWORD")
		if err != nil {
			d.Close() //nolint:errcheck
			return nil, fmt.Errorf("invalid --dav-uri: %w", err)
		}
		if acct.Password == "" && opts.Destination != nil {
			acct.Password = opts.Destination.Password
		}
		d.dav, err = NewDAVDestination(acct, opts, logger)
		if err != nil {
			d.Close() //nolint:errcheck
			return nil, err
		}
	}

	return d, nil
}

// Close releases every open transport.
func (d *KolabDestination) Close() error {
	var first error
	if d.imap != nil {
		if err := d.imap.Close(); err != nil {
			first = err
		}
	}
	if d.dav != nil {
		if err := d.dav.Close(); err != nil && first == nil {
			first = err
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Supports reports whether a transport is wired for the folder type.
func (d *KolabDestination) Supports(folderType string) bool {
	switch folderType {
	case types.TypeMail, types.TypeConfiguration:
		return d.imap != nil
	case types.TypeEvent, types.TypeTask, types.TypeContact:
		if d.rawGroupware {
			return d.imap != nil
		}
		return d.dav != nil
	case types.TypeFile:
		return true
	}
	return false
}

// overIMAP reports whether a folder migrates over the IMAP transport.
func (d *KolabDestination) overIMAP(folderType string) bool {
	switch folderType {
	case types.TypeMail:
		return true
	case types.TypeEvent, types.TypeTask, types.TypeContact:
		return d.rawGroupware
	}
	return false
}

func (d *KolabDestination) fileStore() (*files.Store, error) {
	if d.store != nil {
		return d.store, nil
	}
	store, err := files.Open(d.opts.StorePath, d.logger)
	if err != nil {
		return nil, err
	}
	d.store = store
	return store, nil
}

// CreateFolder dispatches folder creation to the transport serving the
// folder type. Configuration folders have no destination counterpart;
// their content lands in metadata at the end of the run.
func (d *KolabDestination) CreateFolder(f *types.Folder) error {
	switch {
	case d.overIMAP(f.Type):
		return d.imap.CreateFolder(f)
	case f.Type == types.TypeConfiguration:
		return nil
	case f.Type == types.TypeFile:
		store, err := d.fileStore()
		if err != nil {
			return err
		}
		name := f.Targetname
		if name == "" {
			name = "Files"
		}
		id, err := store.EnsureCollection(name)
		if err != nil {
			return err
		}
		d.fileCols[f.Targetname] = id
		return nil
	default:
		return d.dav.CreateFolder(f)
	}
}

// Existing dispatches the destination index lookup. File and
// configuration folders diff per item instead.
func (d *KolabDestination) Existing(f *types.Folder) (map[string]*types.ExistingItem, error) {
	switch {
	case d.overIMAP(f.Type):
		return d.imap.Existing(f)
	case f.Type == types.TypeConfiguration, f.Type == types.TypeFile:
		return map[string]*types.ExistingItem{}, nil
	default:
		return d.dav.Existing(f)
	}
}

// Store routes one item to its transport.
func (d *KolabDestination) Store(item *types.Item) error {
	ftype := item.Folder.Type
	switch {
	case d.overIMAP(ftype):
		return d.imap.Store(item)
	case ftype == types.TypeConfiguration:
		return d.collectTag(item)
	case ftype == types.TypeFile:
		return d.storeFile(item)
	default:
		return d.dav.Store(item)
	}
}

func (d *KolabDestination) payload(item *types.Item) ([]byte, error) {
	if item.Content != nil {
		return item.Content, nil
	}
	if item.Filename == "" {
		return nil, fmt.Errorf("item %s has no payload", item.ID)
	}
	raw, err := os.ReadFile(item.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged item: %w", err)
	}
	return raw, nil
}

// collectTag parses a configuration object and keeps tag relations for
// the end of the run. Other configuration object kinds are skipped.
func (d *KolabDestination) collectTag(item *types.Item) error {
	raw, err := d.payload(item)
	if err != nil {
		return err
	}
	tag, err := tags.ParseRelation(raw)
	if err != nil {
		d.logger.WithError(err).WithField("item", item.ID).
			Debug("Skipping non-tag configuration object")
		return nil
	}
	d.tags = append(d.tags, tag)
	return nil
}

// storeFile unwraps a legacy file message and writes it to the object
// store, skipping files the store already holds unchanged.
func (d *KolabDestination) storeFile(item *types.Item) error {
	raw, err := d.payload(item)
	if err != nil {
		return err
	}
	meta, content, err := files.ParseFileMessage(raw)
	if err != nil {
		return err
	}
	// without a Date header the IMAP internal date keeps change
	// detection working across runs
	if meta.Mtime.IsZero() {
		meta.Mtime = item.Date
	}

	store, err := d.fileStore()
	if err != nil {
		return err
	}
	colID, ok := d.fileCols[item.Folder.Targetname]
	if !ok {
		return fmt.Errorf("file collection for %s not resolved", item.Folder.Targetname)
	}

	existing, err := store.FindFile(colID, meta.Name)
	if err != nil {
		return err
	}
	if files.Unchanged(existing, meta) {
		d.logger.WithField("file", meta.Name).Debug("File unchanged, skipping")
		return nil
	}
	return store.SaveFile(colID, meta, content)
}

// Finish resolves tag membership against the destination IMAP server
// once every folder has been migrated.
func (d *KolabDestination) Finish() error {
	if len(d.tags) == 0 || d.imap == nil {
		return nil
	}
	return tags.NewResolver(d.imap.Client(), d.logger).Sync(d.tags)
}
