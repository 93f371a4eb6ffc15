package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/convert"
	"github.com/brandon/mailmigrate/pkg/types"
)

// ExtractImporter writes fetched items into a local directory tree
// instead of a destination account. The resulting tree is readable by
// the archive source.
type ExtractImporter struct {
	dir    string
	logger *logrus.Logger
}

// NewExtractImporter builds an importer extracting under the staging
// directory.
func NewExtractImporter(opts *config.Options, logger *logrus.Logger) *ExtractImporter {
	return &ExtractImporter{dir: opts.StageDir, logger: logger}
}

func (e *ExtractImporter) Close() error { return nil }

func (e *ExtractImporter) folderDir(f *types.Folder) string {
	name := f.Targetname
	if name == "" {
		name = "INBOX"
	}
	return filepath.Join(e.dir, filepath.FromSlash(name))
}

// CreateFolder creates the extraction directory.
func (e *ExtractImporter) CreateFolder(f *types.Folder) error {
	if err := os.MkdirAll(e.folderDir(f), 0755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	return nil
}

// Existing reports nothing; extraction always refetches.
func (e *ExtractImporter) Existing(f *types.Folder) (map[string]*types.ExistingItem, error) {
	return map[string]*types.ExistingItem{}, nil
}

// Store writes the item payload as a file named by its UID.
func (e *ExtractImporter) Store(item *types.Item) error {
	ext := "eml"
	if conv, err := convert.ForClass(item.Class); err == nil {
		ext = conv.FileExt()
	}

	name := convert.SafeUID(item.UID)
	if name == "" {
		name = convert.SafeUID(convert.ItemUID("", item.ID))
	}
	path := filepath.Join(e.folderDir(item.Folder), name+"."+ext)

	if item.Content != nil {
		if err := os.WriteFile(path, item.Content, 0600); err != nil {
			return fmt.Errorf("failed to write extracted item: %w", err)
		}
		return nil
	}
	if item.Filename == "" {
		return fmt.Errorf("item %s has no payload", item.ID)
	}

	src, err := os.Open(item.Filename)
	if err != nil {
		return fmt.Errorf("failed to open staged item: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write extracted item: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close() //nolint:errcheck
		return fmt.Errorf("failed to write extracted item: %w", err)
	}
	return dst.Close()
}
