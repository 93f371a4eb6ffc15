package driver

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/convert"
	"github.com/brandon/mailmigrate/internal/dav"
	"github.com/brandon/mailmigrate/pkg/types"
)

// davChunkSize is the progress granularity for DAV imports; servers
// tend to throttle, so progress is reported in smaller groups.
const davChunkSize = 25

// DAVDestination imports calendars, task lists and address books over
// CalDAV/CardDAV.
type DAVDestination struct {
	client *dav.Client
	logger *logrus.Logger
	cols   map[string]*dav.Collection
}

// NewDAVDestination connects the DAV endpoint.
func NewDAVDestination(acct *types.Account, opts *config.Options, logger *logrus.Logger) (*DAVDestination, error) {
	cl, err := dav.NewClient(acct, logger)
	if err != nil {
		return nil, err
	}
	return &DAVDestination{
		client: cl,
		logger: logger,
		cols:   make(map[string]*dav.Collection),
	}, nil
}

func (d *DAVDestination) Close() error { return nil }

// ChunkSize returns the import progress granularity.
func (d *DAVDestination) ChunkSize() int { return davChunkSize }

// Supports reports which folder types this destination accepts.
func (d *DAVDestination) Supports(folderType string) bool {
	switch folderType {
	case types.TypeEvent, types.TypeTask, types.TypeContact:
		return true
	}
	return false
}

func colKey(f *types.Folder) string {
	return f.Type + "|" + f.Targetname
}

func (d *DAVDestination) collection(f *types.Folder) (*dav.Collection, error) {
	col, ok := d.cols[colKey(f)]
	if !ok {
		return nil, fmt.Errorf("collection for %s not resolved", f.Targetname)
	}
	return col, nil
}

// CreateFolder finds or creates the collection matching the folder's
// destination name and type.
func (d *DAVDestination) CreateFolder(f *types.Folder) error {
	ctx := context.Background()

	col, err := d.client.FindCollection(ctx, f.Targetname, f.Type)
	if err != nil {
		return err
	}
	if col == nil {
		col, err = d.client.CreateCollection(ctx, f.Targetname, f.Type)
		if err != nil {
			return err
		}
	}

	d.cols[colKey(f)] = col
	return nil
}

// Existing queries the collection's change markers, keyed by the
// recorded source id when present and the object UID otherwise.
func (d *DAVDestination) Existing(f *types.Folder) (map[string]*types.ExistingItem, error) {
	col, err := d.collection(f)
	if err != nil {
		return nil, err
	}

	items, err := d.client.GetItems(context.Background(), col)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*types.ExistingItem, len(items))
	for _, item := range items {
		key := item.SourceID
		if key == "" {
			key = item.UID
		}
		if key == "" {
			continue
		}
		out[key] = item
	}
	return out, nil
}

// Store puts the converted object; same-UID objects overwrite in place.
func (d *DAVDestination) Store(item *types.Item) error {
	col, err := d.collection(item.Folder)
	if err != nil {
		return err
	}

	content := item.Content
	if content == nil && item.Filename != "" {
		content, err = os.ReadFile(item.Filename)
		if err != nil {
			return fmt.Errorf("failed to read staged object: %w", err)
		}
	}

	uid := convert.SafeUID(item.UID)
	if uid == "" {
		return fmt.Errorf("item %s has no object UID", item.ID)
	}
	return d.client.PutObject(context.Background(), col, uid, content)
}
