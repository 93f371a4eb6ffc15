// Package driver connects the protocol clients to the migration
// engine: exporters enumerate and fetch source items, importers create
// destination folders and store items.
package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/pkg/types"
)

// Exporter is a migration source.
type Exporter interface {
	// Folders lists the source folders with their destination mapping,
	// in stable order.
	Folders() ([]*types.Folder, error)
	// ListItems lists the items of a folder. Items the destination
	// already holds carry their Existing state for change detection.
	ListItems(folder *types.Folder, existing map[string]*types.ExistingItem) ([]*types.Item, error)
	// FetchItem loads and converts the item payload into Content or a
	// staged Filename.
	FetchItem(item *types.Item) error
	Close() error
}

// Importer is a migration destination.
type Importer interface {
	// CreateFolder ensures the destination folder exists and is ready
	// to receive items.
	CreateFolder(folder *types.Folder) error
	// Existing returns the destination's current items keyed by their
	// source identity.
	Existing(folder *types.Folder) (map[string]*types.ExistingItem, error)
	// Store writes one item.
	Store(item *types.Item) error
	Close() error
}

// Finisher is implemented by importers that run deferred work after
// every folder has been processed (tag membership resolution).
type Finisher interface {
	Finish() error
}

// Unchanged reports whether the destination copy of an item is already
// current, so the transfer can be skipped.
func Unchanged(item *types.Item) bool {
	ex := item.Existing
	if ex == nil {
		return false
	}

	// A recorded source id that still matches means nothing moved.
	if ex.SourceID != "" {
		return ex.SourceID == item.ID
	}

	if item.Folder != nil && item.Folder.Type != types.TypeMail {
		return false
	}

	// Mail: same size, same server date, same flags.
	if item.Size != ex.Size || !item.Date.Equal(ex.Date) {
		return false
	}
	if len(item.Flags) != len(ex.Flags) {
		return false
	}
	for i, f := range item.Flags {
		if ex.Flags[i] != f {
			return false
		}
	}
	return true
}

// NewExporter builds the source driver for the configured account.
func NewExporter(opts *config.Options, logger *logrus.Logger) (Exporter, error) {
	switch opts.Source.Scheme {
	case "ews":
		return NewEWSSource(opts, logger)
	case "imap", "imaps", "kolab":
		return NewIMAPSource(opts, logger)
	case "archive":
		return NewArchiveSource(opts, logger)
	}
	return nil, fmt.Errorf("no source driver for scheme %s", opts.Source.Scheme)
}

// NewImporter builds the destination driver for the configured account.
// In extract-only mode the importer writes fetched items to the staging
// directory instead of a remote destination.
func NewImporter(opts *config.Options, logger *logrus.Logger) (Importer, error) {
	if opts.ExtractOnly {
		return NewExtractImporter(opts, logger), nil
	}
	switch opts.Destination.Scheme {
	case "imap", "imaps":
		return NewIMAPDestination(opts.Destination, opts, logger)
	case "dav", "davs":
		return NewDAVDestination(opts.Destination, opts, logger)
	case "kolab":
		return NewKolabDestination(opts, logger)
	}
	return nil, fmt.Errorf("no destination driver for scheme %s", opts.Destination.Scheme)
}
