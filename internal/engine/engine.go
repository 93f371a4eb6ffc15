// Package engine orchestrates one migration run: folder iteration,
// change detection, fetch/store of each item, and the error policy
// deciding what aborts a run and what only fails an item.
package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/driver"
	"github.com/brandon/mailmigrate/internal/errs"
	"github.com/brandon/mailmigrate/internal/folder"
	"github.com/brandon/mailmigrate/pkg/types"
)

// Supporter is implemented by importers that only accept some folder
// types.
type Supporter interface {
	Supports(folderType string) bool
}

// Chunker lets an importer pick the progress reporting granularity.
type Chunker interface {
	ChunkSize() int
}

// Result summarizes a finished run.
type Result struct {
	Folders        int
	FoldersSkipped int
	Items          int
	Skipped        int
	Failed         int
}

// Engine drives one exporter/importer pair through a migration.
type Engine struct {
	exporter driver.Exporter
	importer driver.Importer
	opts     *config.Options
	filter   *folder.Filter
	logger   *logrus.Logger
	reporter Reporter
}

// New builds an engine over connected drivers.
func New(exporter driver.Exporter, importer driver.Importer, opts *config.Options, logger *logrus.Logger) *Engine {
	return &Engine{
		exporter: exporter,
		importer: importer,
		opts:     opts,
		filter: &folder.Filter{
			Includes:      opts.IncludeTargets,
			Excludes:      opts.ExcludeTargets,
			TypeFilter:    opts.TypeFilter,
			TypeBlacklist: opts.TypeBlacklist,
		},
		logger:   logger,
		reporter: NewLogReporter(logger),
	}
}

func (e *Engine) chunkSize() int {
	if c, ok := e.importer.(Chunker); ok {
		return c.ChunkSize()
	}
	if e.opts.ChunkSize > 0 {
		return e.opts.ChunkSize
	}
	return 100
}

// orderFolders sorts folders by name, moving configuration folders to
// the end so tag members exist on the destination before resolution.
func orderFolders(folders []*types.Folder) {
	sort.SliceStable(folders, func(i, j int) bool {
		ci := folders[i].Type == types.TypeConfiguration
		cj := folders[j].Type == types.TypeConfiguration
		if ci != cj {
			return !ci
		}
		return folders[i].FullName < folders[j].FullName
	})
}

// Run migrates every folder and returns the run summary. Connection
// and non-benign store failures abort the run; conversion failures and
// unsupported items fail or skip single items.
func (e *Engine) Run() (*Result, error) {
	folders, err := e.exporter.Folders()
	if err != nil {
		return nil, fmt.Errorf("failed to list source folders: %w", err)
	}
	orderFolders(folders)

	res := &Result{}
	chunk := e.chunkSize()

	skipping := e.opts.PickupFrom != ""
	for i, f := range folders {
		log := e.logger.WithFields(logrus.Fields{
			"folder": f.FullName,
			"target": f.Targetname,
			"type":   f.Type,
		})

		if skipping {
			if !strings.EqualFold(f.Targetname, e.opts.PickupFrom) {
				log.Debug("Skipping folder before pickup point")
				res.FoldersSkipped++
				continue
			}
			skipping = false
		}

		if !e.filter.Allow(f.Targetname, f.Type) {
			log.Debug("Folder filtered out")
			res.FoldersSkipped++
			continue
		}
		if sup, ok := e.importer.(Supporter); ok && !sup.Supports(f.Type) {
			log.Warn("Destination does not accept this folder type, skipping")
			res.FoldersSkipped++
			continue
		}

		e.reporter.Folder(i+1, len(folders), f)

		if err := e.runFolder(f, chunk, res); err != nil {
			return res, fmt.Errorf("folder %s: %w", f.FullName, err)
		}
		res.Folders++
	}

	if skipping {
		e.logger.WithField("target", e.opts.PickupFrom).
			Warn("Pickup folder not found, nothing migrated")
	}

	if fin, ok := e.importer.(driver.Finisher); ok {
		if err := fin.Finish(); err != nil {
			return res, err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"folders": res.Folders,
		"items":   res.Items,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	}).Info("Migration finished")
	return res, nil
}

func (e *Engine) runFolder(f *types.Folder, chunk int, res *Result) error {
	if err := e.importer.CreateFolder(f); err != nil {
		return err
	}

	existing, err := e.importer.Existing(f)
	if err != nil {
		return err
	}

	items, err := e.exporter.ListItems(f, existing)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		e.logger.WithField("folder", f.FullName).Info("Folder is empty, skipping")
		return nil
	}

	for i, item := range items {
		if err := e.runItem(item, res); err != nil {
			return err
		}
		if (i+1)%chunk == 0 || i+1 == len(items) {
			e.reporter.Progress(f, i+1, len(items))
		}
	}
	return nil
}

func (e *Engine) runItem(item *types.Item, res *Result) error {
	log := e.logger.WithField("item", item.ID)

	if driver.Unchanged(item) {
		log.Debug("Item unchanged, skipping")
		res.Skipped++
		return nil
	}

	if err := e.exporter.FetchItem(item); err != nil {
		if errs.IsUnsupported(err) {
			log.WithError(err).Debug("Skipping unsupported item")
			res.Skipped++
			return nil
		}
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindConnection {
			return err
		}
		log.WithError(err).Error("Failed to fetch item")
		res.Failed++
		return nil
	}

	err := e.importer.Store(item)
	e.cleanup(item)
	if err != nil {
		if errs.IsBenignStore(err) {
			log.WithError(err).Warn("Destination rejected item, continuing")
			res.Failed++
			return nil
		}
		return err
	}

	res.Items++
	return nil
}

// cleanup removes a staged payload file once the item is done. Files
// outside the staging directory belong to the source and stay.
func (e *Engine) cleanup(item *types.Item) {
	if item.Filename == "" || e.opts.StageDir == "" {
		return
	}
	if !strings.HasPrefix(item.Filename, e.opts.StageDir) {
		return
	}
	if err := os.Remove(item.Filename); err != nil && !os.IsNotExist(err) {
		e.logger.WithError(err).WithField("file", item.Filename).
			Warn("Failed to remove staged file")
	}
}
