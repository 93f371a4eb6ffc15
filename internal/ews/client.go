// Package ews is a minimal SOAP client for Exchange Web Services,
// covering the operations the migration needs: folder discovery, paged
// item listing, item fetches with class-specific shapes, and
// attachment fetches.
package ews

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/errs"
	"github.com/brandon/mailmigrate/pkg/types"
)

const (
	serverVersion = "Exchange2013_SP1"
	// PageSize is the FindItem page length.
	PageSize = 100
)

// System folders that never migrate.
var folderExceptions = map[string]bool{
	"Sharing":                      true,
	"Outbox":                       true,
	"Sync Issues":                  true,
	"Conflicts":                    true,
	"Local Failures":               true,
	"Server Failures":              true,
	"Favorites":                    true,
	"My Contacts":                  true,
	"MyContactsExtended":           true,
	"Quick Step Settings":          true,
	"RSS Feeds":                    true,
	"Conversation Action Settings": true,
	"Journal":                      true,
}

// Folder classes mapped to destination folder types.
var folderClassMap = map[string]string{
	"IPF.Note":        types.TypeMail,
	"IPF.Appointment": types.TypeEvent,
	"IPF.Contact":     types.TypeContact,
	"IPF.Task":        types.TypeTask,
}

// Client talks to one EWS endpoint.
type Client struct {
	account  *types.Account
	endpoint string
	http     *http.Client
	logger   *logrus.Logger
}

// NewClient builds a client for the account's Exchange host.
func NewClient(acct *types.Account, logger *logrus.Logger) *Client {
	return &Client{
		account:  acct,
		endpoint: fmt.Sprintf("https://%s/EWS/Exchange.asmx", acct.Host),
		http:     &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
	}
}

func (c *Client) call(op interface{}, out interface{}) error {
	env := envelope{
		XmlnsSoap: nsSoap,
		XmlnsM:    nsMessages,
		XmlnsT:    nsTypes,
		Header:    header{Version: versionHeader{Version: serverVersion}},
		Body:      body{Op: op},
	}

	payload, err := xml.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errs.Connection("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.SetBasicAuth(c.account.Username, c.account.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Connection("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Connection("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return errs.Connection("authentication rejected by %s", c.account.Host)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Protocol("unexpected HTTP status %d from %s", resp.StatusCode, c.account.Host)
	}

	var respEnv struct {
		Body struct {
			Fault *struct {
				String string `xml:"faultstring"`
			} `xml:"Fault"`
			Inner []byte `xml:",innerxml"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(raw, &respEnv); err != nil {
		return errs.Protocol("failed to parse response envelope: %w", err)
	}
	if respEnv.Body.Fault != nil {
		return errs.Protocol("SOAP fault: %s", respEnv.Body.Fault.String)
	}
	if err := xml.Unmarshal(respEnv.Body.Inner, out); err != nil {
		return errs.Protocol("failed to parse response body: %w", err)
	}
	return nil
}

func checkMessages(msgs []responseMessage) error {
	if len(msgs) == 0 {
		return errs.Protocol("empty response")
	}
	for _, m := range msgs {
		if m.ResponseClass != "Success" {
			return errs.Protocol("%s: %s", m.ResponseCode, m.MessageText)
		}
	}
	return nil
}

func (c *Client) parentRoot() parentRoot {
	root := parentRoot{Distinguished: distinguishedFolderID{ID: "msgfolderroot"}}
	if c.account.LoginAs != "" {
		root.Distinguished.Mailbox = &mailbox{EmailAddress: c.account.LoginAs}
	}
	return root
}

// GetFolders lists the full folder hierarchy, dropping system folders
// and folder classes that have no destination type. FullName paths use
// "/" between segments.
func (c *Client) GetFolders() ([]*types.Folder, error) {
	req := &findFolderRequest{
		Traversal:   "Deep",
		FolderShape: folderShape{BaseShape: "AllProperties"},
		ParentIDs:   c.parentRoot(),
	}
	var resp FindFolderResponse
	if err := c.call(req, &resp); err != nil {
		return nil, fmt.Errorf("FindFolder failed: %w", err)
	}
	if err := checkMessages(resp.Messages); err != nil {
		return nil, fmt.Errorf("FindFolder failed: %w", err)
	}

	byID := make(map[string]*Folder)
	var all []*Folder
	for _, m := range resp.Messages {
		rf := m.RootFolder
		for _, group := range [][]Folder{rf.Folders, rf.CalFolders, rf.ContFolders, rf.TaskFolders} {
			for i := range group {
				f := group[i]
				byID[f.FolderID.ID] = &f
				all = append(all, &f)
			}
		}
	}

	var out []*types.Folder
	for _, f := range all {
		if folderExceptions[f.DisplayName] {
			continue
		}
		ftype, ok := folderClassMap[f.FolderClass]
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"folder": f.DisplayName,
				"class":  f.FolderClass,
			}).Debug("Skipping unsupported folder class")
			continue
		}

		out = append(out, &types.Folder{
			ID:       f.FolderID.ID,
			FullName: c.folderPath(f, byID),
			Type:     ftype,
			Total:    f.TotalCount,
		})
	}
	return out, nil
}

func (c *Client) folderPath(f *Folder, byID map[string]*Folder) string {
	parts := []string{f.DisplayName}
	for {
		parent, ok := byID[f.ParentID.ID]
		if !ok {
			break
		}
		parts = append([]string{parent.DisplayName}, parts...)
		f = parent
	}
	return strings.Join(parts, "/")
}

// FindItems lists one page of item ids and classes in a folder.
func (c *Client) FindItems(folderID string, offset int) (items []Item, total int, last bool, err error) {
	req := &findItemRequest{
		Traversal: "Shallow",
		ItemShape: itemShape{
			BaseShape: "IdOnly",
			AdditionalProps: &fieldURISet{FieldURIs: []fieldURI{
				{URI: "item:ItemClass"},
			}},
		},
		Paging:    &indexedPage{MaxEntries: PageSize, Offset: offset, BasePoint: "Beginning"},
		ParentIDs: parentFolders{FolderID: FolderID{ID: folderID}},
	}
	var resp FindItemResponse
	if err = c.call(req, &resp); err != nil {
		return nil, 0, false, fmt.Errorf("FindItem failed: %w", err)
	}
	if err = checkMessages(resp.Messages); err != nil {
		return nil, 0, false, fmt.Errorf("FindItem failed: %w", err)
	}

	for _, m := range resp.Messages {
		rf := m.RootFolder
		total = rf.TotalItems
		last = rf.LastItem
		for _, group := range [][]Item{rf.ItemEntries, rf.Calendar, rf.Contacts, rf.DistLists, rf.Tasks, rf.MeetingItems} {
			items = append(items, group...)
		}
	}
	return items, total, last, nil
}

// GetItem fetches one item with the shape its class requires.
func (c *Client) GetItem(id ItemID, class string) (*Item, error) {
	shape := itemShape{
		BaseShape:          "Default",
		IncludeMimeContent: true,
		AdditionalProps: &fieldURISet{FieldURIs: []fieldURI{
			{URI: "item:LastModifiedTime"},
		}},
	}
	switch {
	case strings.HasPrefix(class, "IPM.Appointment"):
		shape.AdditionalProps.FieldURIs = append(shape.AdditionalProps.FieldURIs, fieldURI{URI: "calendar:UID"})
	case strings.HasPrefix(class, "IPM.Task"):
		shape = itemShape{BaseShape: "AllProperties"}
	case strings.HasPrefix(class, "IPM.DistList"):
		shape.IncludeMimeContent = false
		shape.AdditionalProps.FieldURIs = append(shape.AdditionalProps.FieldURIs, fieldURI{URI: "item:Body"})
	}

	req := &getItemRequest{
		ItemShape: shape,
		ItemIDs:   itemIDs{ItemID: reqItemID{ID: id.ID, ChangeKey: id.ChangeKey}},
	}
	var resp GetItemResponse
	if err := c.call(req, &resp); err != nil {
		return nil, fmt.Errorf("GetItem failed: %w", err)
	}
	if err := checkMessages(resp.Messages); err != nil {
		return nil, fmt.Errorf("GetItem failed: %w", err)
	}

	for _, m := range resp.Messages {
		for _, group := range [][]Item{m.Items.Messages, m.Items.Calendar, m.Items.Contacts, m.Items.DistLists, m.Items.Tasks} {
			if len(group) > 0 {
				return &group[0], nil
			}
		}
	}
	return nil, errs.Protocol("GetItem returned no item for %s", id.ID)
}

// GetAttachment fetches one attachment body.
func (c *Client) GetAttachment(id ItemID) (name, contentType string, content []byte, err error) {
	req := &getAttachmentRequest{
		Shape: attachmentShape{IncludeMimeContent: true},
		IDs:   attachmentIDs{AttachmentID: reqItemID{ID: id.ID}},
	}
	var resp GetAttachmentResponse
	if err = c.call(req, &resp); err != nil {
		return "", "", nil, fmt.Errorf("GetAttachment failed: %w", err)
	}
	if err = checkMessages(resp.Messages); err != nil {
		return "", "", nil, fmt.Errorf("GetAttachment failed: %w", err)
	}

	for _, m := range resp.Messages {
		for _, f := range m.Attachments.Files {
			content, err = base64.StdEncoding.DecodeString(strings.TrimSpace(f.Content))
			if err != nil {
				return "", "", nil, errs.Protocol("failed to decode attachment: %w", err)
			}
			return f.Name, f.ContentType, content, nil
		}
	}
	return "", "", nil, errs.Protocol("GetAttachment returned no attachment")
}

// DecodeMime returns the decoded MimeContent of an item.
func (it *Item) DecodeMime() ([]byte, error) {
	if it.MimeContent == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(it.MimeContent))
	if err != nil {
		return nil, errs.Protocol("failed to decode item MIME content: %w", err)
	}
	return raw, nil
}

// ParseTime parses the timestamp formats EWS emits, including the
// comma-fraction variant of LastModifiedTime and date-only values.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	s = strings.Replace(s, ",", ".", 1)
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.999Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02Z07:00",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
