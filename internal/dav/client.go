// Package dav drives the destination's CalDAV and CardDAV interfaces:
// collection discovery and creation, object PUTs, and slim queries for
// change detection.
package dav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/emersion/go-webdav/carddav"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/errs"
	"github.com/brandon/mailmigrate/pkg/types"
)

// Collection is a calendar or address book on the server.
type Collection struct {
	Href string
	Name string
	Type string // types.TypeEvent, types.TypeTask or types.TypeContact
}

// Client wraps one DAV endpoint with both protocol flavors.
type Client struct {
	endpoint string
	http     webdav.HTTPClient
	cal      *caldav.Client
	card     *carddav.Client
	logger   *logrus.Logger

	calHome  string
	cardHome string
}

// NewClient connects the DAV clients. The dav scheme uses http, davs
// https.
func NewClient(acct *types.Account, logger *logrus.Logger) (*Client, error) {
	scheme := "https"
	if acct.Scheme == "dav" {
		scheme = "http"
	}
	endpoint := fmt.Sprintf("%s://%s:%d", scheme, acct.Host, acct.Port)

	httpClient := webdav.HTTPClientWithBasicAuth(nil, acct.Username, acct.Password)

	cal, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, errs.Connection("failed to create CalDAV client: %w", err)
	}
	card, err := carddav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, errs.Connection("failed to create CardDAV client: %w", err)
	}

	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		cal:      cal,
		card:     card,
		logger:   logger,
	}, nil
}

func (c *Client) calendarHome(ctx context.Context) (string, error) {
	if c.calHome != "" {
		return c.calHome, nil
	}
	principal, err := c.cal.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", errs.Connection("failed to find DAV principal: %w", err)
	}
	home, err := c.cal.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", errs.Protocol("failed to find calendar home: %w", err)
	}
	c.calHome = home
	return home, nil
}

func (c *Client) addressBookHome(ctx context.Context) (string, error) {
	if c.cardHome != "" {
		return c.cardHome, nil
	}
	principal, err := c.card.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", errs.Connection("failed to find DAV principal: %w", err)
	}
	home, err := c.card.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return "", errs.Protocol("failed to find addressbook home: %w", err)
	}
	c.cardHome = home
	return home, nil
}

// normalizeName flattens the hierarchical display names some servers
// return (segments joined with a right-pointing guillemet).
func normalizeName(name string) string {
	return strings.ReplaceAll(name, " \u00bb ", "/")
}

// ListCollections lists collections of the given folder type.
func (c *Client) ListCollections(ctx context.Context, folderType string) ([]*Collection, error) {
	if folderType == types.TypeContact {
		home, err := c.addressBookHome(ctx)
		if err != nil {
			return nil, err
		}
		books, err := c.card.FindAddressBooks(ctx, home)
		if err != nil {
			return nil, errs.Protocol("failed to list addressbooks: %w", err)
		}
		out := make([]*Collection, 0, len(books))
		for _, b := range books {
			out = append(out, &Collection{
				Href: b.Path,
				Name: normalizeName(b.Name),
				Type: types.TypeContact,
			})
		}
		return out, nil
	}

	home, err := c.calendarHome(ctx)
	if err != nil {
		return nil, err
	}
	cals, err := c.cal.FindCalendars(ctx, home)
	if err != nil {
		return nil, errs.Protocol("failed to list calendars: %w", err)
	}

	out := make([]*Collection, 0, len(cals))
	for _, cal := range cals {
		// a missing component set means the server did not say; take the
		// collection at face value for the requested type
		if len(cal.SupportedComponentSet) > 0 {
			want := "VEVENT"
			if folderType == types.TypeTask {
				want = "VTODO"
			}
			supported := false
			for _, comp := range cal.SupportedComponentSet {
				if comp == want {
					supported = true
					break
				}
			}
			if !supported {
				continue
			}
		}
		out = append(out, &Collection{
			Href: cal.Path,
			Name: normalizeName(cal.Name),
			Type: folderType,
		})
	}
	return out, nil
}

// FindCollection locates a collection by its mapped folder name.
func (c *Client) FindCollection(ctx context.Context, name, folderType string) (*Collection, error) {
	cols, err := c.ListCollections(ctx, folderType)
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		if col.Name == name {
			return col, nil
		}
	}
	return nil, nil
}

// CreateCollection creates a calendar or address book with the given
// display name under the relevant home set, at a fresh UUID href.
func (c *Client) CreateCollection(ctx context.Context, name, folderType string) (*Collection, error) {
	var home string
	var err error
	var resourceType, compSet string

	switch folderType {
	case types.TypeContact:
		home, err = c.addressBookHome(ctx)
		resourceType = `<C:addressbook xmlns:C="urn:ietf:params:xml:ns:carddav"/>`
	case types.TypeTask:
		home, err = c.calendarHome(ctx)
		resourceType = `<C:calendar xmlns:C="urn:ietf:params:xml:ns:caldav"/>`
		compSet = `<C:supported-calendar-component-set xmlns:C="urn:ietf:params:xml:ns:caldav"><C:comp name="VTODO"/></C:supported-calendar-component-set>`
	default:
		home, err = c.calendarHome(ctx)
		resourceType = `<C:calendar xmlns:C="urn:ietf:params:xml:ns:caldav"/>`
		compSet = `<C:supported-calendar-component-set xmlns:C="urn:ietf:params:xml:ns:caldav"><C:comp name="VEVENT"/></C:supported-calendar-component-set>`
	}
	if err != nil {
		return nil, err
	}

	href := path.Join(home, uuid.NewString()) + "/"
	body := `<?xml version="1.0" encoding="utf-8"?>` +
		`<D:mkcol xmlns:D="DAV:"><D:set><D:prop>` +
		`<D:resourcetype><D:collection/>` + resourceType + `</D:resourcetype>` +
		`<D:displayname>` + xmlEscape(name) + `</D:displayname>` +
		compSet +
		`</D:prop></D:set></D:mkcol>`

	req, err := http.NewRequestWithContext(ctx, "MKCOL", c.endpoint+href, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Connection("MKCOL failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 300 {
		return nil, errs.Store("failed to create collection %s: HTTP %d", name, resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"collection": name,
		"href":       href,
	}).Info("Created DAV collection")

	return &Collection{Href: href, Name: name, Type: folderType}, nil
}

// PutObject stores one object in a collection. Client errors (4xx) are
// reported as store failures the engine may treat as fatal unless
// whitelisted; the object content type follows the collection type.
func (c *Client) PutObject(ctx context.Context, col *Collection, uid string, content []byte) error {
	contentType := "text/calendar; charset=utf-8"
	ext := ".ics"
	if col.Type == types.TypeContact {
		contentType = "text/vcard; charset=utf-8"
		ext = ".vcf"
	}

	href := path.Join(col.Href, uid+ext)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+href, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Connection("PUT failed: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return errs.Store("failed to store object %s: HTTP %d: %s", uid, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// GetItems queries a collection for the change markers of every
// object: href, UID, REV or DTSTAMP, and the X-MS-ID back-reference.
func (c *Client) GetItems(ctx context.Context, col *Collection) ([]*types.ExistingItem, error) {
	if col.Type == types.TypeContact {
		return c.getCards(ctx, col)
	}
	return c.getCalendarObjects(ctx, col)
}

func (c *Client) getCards(ctx context.Context, col *Collection) ([]*types.ExistingItem, error) {
	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{"UID", "REV", "X-MS-ID"},
		},
	}
	objs, err := c.card.QueryAddressBook(ctx, col.Href, query)
	if err != nil {
		return nil, errs.Protocol("failed to query addressbook: %w", err)
	}

	out := make([]*types.ExistingItem, 0, len(objs))
	for _, o := range objs {
		item := &types.ExistingItem{Href: o.Path}
		if o.Card != nil {
			item.UID = o.Card.Value("UID")
			item.Rev = o.Card.Value("REV")
			item.SourceID = o.Card.Value("X-MS-ID")
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) getCalendarObjects(ctx context.Context, col *Collection) ([]*types.ExistingItem, error) {
	comp := "VEVENT"
	if col.Type == types.TypeTask {
		comp = "VTODO"
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:  comp,
				Props: []string{"UID", "DTSTAMP", "X-MS-ID"},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: comp}},
		},
	}
	objs, err := c.cal.QueryCalendar(ctx, col.Href, query)
	if err != nil {
		return nil, errs.Protocol("failed to query calendar: %w", err)
	}

	out := make([]*types.ExistingItem, 0, len(objs))
	for _, o := range objs {
		item := &types.ExistingItem{Href: o.Path}
		if o.Data != nil {
			for _, child := range o.Data.Children {
				if child.Name != comp {
					continue
				}
				if p := child.Props.Get("UID"); p != nil {
					item.UID = p.Value
				}
				if p := child.Props.Get("DTSTAMP"); p != nil {
					item.DTStamp = p.Value
				}
				if p := child.Props.Get("X-MS-ID"); p != nil {
					item.SourceID = p.Value
				}
				break
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
