package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/pkg/types"
)

// Reporter receives run progress. Reporting is side-effect only; the
// engine never reads it back.
type Reporter interface {
	// Folder announces that folder index of total is being migrated.
	Folder(index, total int, f *types.Folder)
	// Progress announces that done of total items of a folder landed.
	Progress(f *types.Folder, done, total int)
}

type logReporter struct {
	logger *logrus.Logger
}

// NewLogReporter reports progress through the run logger.
func NewLogReporter(logger *logrus.Logger) Reporter {
	return &logReporter{logger: logger}
}

func (r *logReporter) Folder(index, total int, f *types.Folder) {
	r.logger.WithFields(logrus.Fields{
		"folder": f.FullName,
		"type":   f.Type,
		"index":  index,
		"total":  total,
	}).Info("Migrating folder")
}

func (r *logReporter) Progress(f *types.Folder, done, total int) {
	r.logger.WithFields(logrus.Fields{
		"folder": f.FullName,
		"done":   done,
		"total":  total,
	}).Info("Folder progress")
}
