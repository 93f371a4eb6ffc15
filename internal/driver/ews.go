package driver

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/config"
	"github.com/brandon/mailmigrate/internal/convert"
	"github.com/brandon/mailmigrate/internal/ews"
	"github.com/brandon/mailmigrate/internal/folder"
	"github.com/brandon/mailmigrate/pkg/types"
)

// EWSSource exports from an Exchange account.
type EWSSource struct {
	client *ews.Client
	cctx   *convert.Context
	logger *logrus.Logger
}

// NewEWSSource builds an Exchange exporter. The conversion context
// carries the destination owner for synthesized ORGANIZER properties.
func NewEWSSource(opts *config.Options, logger *logrus.Logger) (*EWSSource, error) {
	owner := ""
	if opts.Destination != nil {
		owner = opts.Destination.Email()
	}
	return &EWSSource{
		client: ews.NewClient(opts.Source, logger),
		cctx:   &convert.Context{OwnerEmail: owner, Logger: logger},
		logger: logger,
	}, nil
}

func (s *EWSSource) Close() error { return nil }

// Folders lists the Exchange folder hierarchy with destination names.
func (s *EWSSource) Folders() ([]*types.Folder, error) {
	folders, err := s.client.GetFolders()
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		f.Targetname = folder.MapMailbox(f.FullName, 0, "/")
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].FullName < folders[j].FullName
	})
	return folders, nil
}

// ListItems pages through the folder and attaches destination state by
// the recorded source id.
func (s *EWSSource) ListItems(f *types.Folder, existing map[string]*types.ExistingItem) ([]*types.Item, error) {
	var out []*types.Item
	offset := 0
	for {
		page, _, last, err := s.client.FindItems(f.ID, offset)
		if err != nil {
			return nil, err
		}
		offset += len(page)

		for i := range page {
			it := page[i]
			if !convert.Supported(it.ItemClass) {
				s.logger.WithFields(logrus.Fields{
					"folder": f.FullName,
					"class":  it.ItemClass,
				}).Debug("Skipping unsupported item class")
				continue
			}
			id := it.ItemID.String()
			out = append(out, &types.Item{
				ID:       id,
				Class:    it.ItemClass,
				Folder:   f,
				Existing: existing[id],
			})
		}

		if last || len(page) == 0 {
			break
		}
	}
	return out, nil
}

// FetchItem fetches the full item with its class shape, pulls the
// attachments the converter needs, and converts the payload.
func (s *EWSSource) FetchItem(item *types.Item) error {
	full, err := s.client.GetItem(ews.ParseItemID(item.ID), item.Class)
	if err != nil {
		return err
	}

	src, err := full.Source()
	if err != nil {
		return err
	}

	if full.HasAttachments && wantsAttachments(item.Class) {
		for _, ref := range full.Attachments.Files {
			if ref.IsInline {
				continue
			}
			name, ctype, content, err := s.client.GetAttachment(ref.AttachmentID)
			if err != nil {
				return err
			}
			src.Attachments = append(src.Attachments, convert.Attachment{
				Name:        name,
				ContentType: ctype,
				Content:     content,
			})
		}
	}

	conv, err := convert.ForClass(item.Class)
	if err != nil {
		return err
	}
	payload, err := conv.Convert(src, s.cctx)
	if err != nil {
		return err
	}

	item.Content = payload
	item.Size = int64(len(payload))
	item.UID = convert.ItemUID(src.UID, src.ItemID)
	item.Mtime = src.LastModified
	if item.Date.IsZero() {
		item.Date = src.LastModified
	}
	return nil
}

// wantsAttachments reports whether the item class embeds attachment
// bodies in its converted form. Mail carries attachments inside its
// MIME content already.
func wantsAttachments(class string) bool {
	return strings.HasPrefix(class, convert.ClassAppointment) ||
		strings.HasPrefix(class, convert.ClassTask)
}
