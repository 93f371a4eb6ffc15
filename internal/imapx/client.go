// Package imapx wraps an IMAP connection with the operations the
// migration drivers need: folder listing and creation, indexed header
// fetches, streamed message fetches, appends, searches, and the
// METADATA/ANNOTATE extensions Kolab servers implement.
package imapx

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/errs"
	"github.com/brandon/mailmigrate/pkg/types"
)

const dialTimeout = 30 * time.Second

// IndexEntry is the per-message state used for change detection.
type IndexEntry struct {
	UID       uint32
	Size      uint32
	Date      time.Time
	Flags     []string
	MessageID string
	From      string
	// SourceID is the X-MS-ID back-reference header a previous
	// migration run recorded on the message, if any.
	SourceID string
}

// ID returns the stable item identifier for an indexed message. When
// the message carries no Message-ID header a digest of folder, sender
// and date stands in, so the identity survives re-runs.
func (e *IndexEntry) ID(folder string) string {
	mid := e.MessageID
	if mid == "" {
		sum := md5.Sum([]byte(folder + e.From + e.Date.Format(time.RFC3339)))
		mid = hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("%d:%s", e.UID, mid)
}

// Client wraps an IMAP client connection
type Client struct {
	account  *types.Account
	client   *client.Client
	logger   *logrus.Logger
	selected string
	delim    string
}

// Dial connects and authenticates. The imaps scheme uses implicit TLS,
// imap dials plaintext and upgrades with STARTTLS.
func Dial(acct *types.Account, logger *logrus.Logger) (*Client, error) {
	tlsConfig := &tls.Config{
		ServerName: acct.Host,
		MinVersion: tls.VersionTLS12,
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var cl *client.Client
	var err error
	if acct.Scheme == "imap" {
		cl, err = client.DialWithDialer(dialer, acct.Addr())
		if err == nil {
			err = cl.StartTLS(tlsConfig)
		}
	} else {
		cl, err = client.DialWithDialerTLS(dialer, acct.Addr(), tlsConfig)
	}
	if err != nil {
		return nil, errs.Connection("failed to connect to IMAP server: %w", err)
	}

	// Admin proxy authentication carries the target mailbox as the
	// SASL authorization identity.
	if acct.LoginAs != "" {
		err = cl.Authenticate(sasl.NewPlainClient(acct.LoginAs, acct.Username, acct.Password))
	} else {
		err = cl.Login(acct.Username, acct.Password)
	}
	if err != nil {
		cl.Logout() //nolint:errcheck
		return nil, errs.Connection("failed to login to IMAP server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host": acct.Host,
		"user": acct.Email(),
	}).Info("Connected to IMAP server")

	return &Client{account: acct, client: cl, logger: logger, delim: "/"}, nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}

// Delimiter returns the server's hierarchy delimiter.
func (c *Client) Delimiter() string {
	return c.delim
}

// ListFolders lists all mailboxes, sorted by name.
func (c *Client) ListFolders() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		if m.Delimiter != "" {
			c.delim = m.Delimiter
		}
		names = append(names, m.Name)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

// CreateFolder creates a mailbox. An already existing mailbox is not
// an error.
func (c *Client) CreateFolder(name string) error {
	if err := c.client.Create(name); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	return nil
}

// Subscribe subscribes the account to a mailbox.
func (c *Client) Subscribe(name string) error {
	if err := c.client.Subscribe(name); err != nil {
		return fmt.Errorf("failed to subscribe folder %s: %w", name, err)
	}
	return nil
}

// CountMessages returns the number of messages in a mailbox.
func (c *Client) CountMessages(name string) (int, error) {
	status, err := c.client.Status(name, []imap.StatusItem{imap.StatusMessages})
	if err != nil {
		return 0, fmt.Errorf("failed to get folder status: %w", err)
	}
	return int(status.Messages), nil
}

// Select opens a mailbox, reusing the already selected one.
func (c *Client) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if c.selected == name && c.client.Mailbox() != nil {
		return c.client.Mailbox(), nil
	}
	mbox, err := c.client.Select(name, readOnly)
	if err != nil {
		c.selected = ""
		return nil, fmt.Errorf("failed to select folder %s: %w", name, err)
	}
	c.selected = name
	return mbox, nil
}

// ClearFolder deletes and expunges every message in a mailbox.
func (c *Client) ClearFolder(name string) error {
	mbox, err := c.Select(name, false)
	if err != nil {
		return err
	}
	if mbox.Messages == 0 {
		return nil
	}

	c.logger.WithField("folder", name).Info("Clearing destination folder")

	seq := new(imap.SeqSet)
	seq.AddRange(1, mbox.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.client.Store(seq, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag messages deleted: %w", err)
	}
	if err := c.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge folder: %w", err)
	}
	return nil
}

// FetchIndex fetches the change-detection index of a mailbox: UID,
// size, internal date, flags, Message-ID and sender for each message.
func (c *Client) FetchIndex(name string) ([]*IndexEntry, error) {
	mbox, err := c.Select(name, true)
	if err != nil {
		return nil, err
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	section, err := imap.ParseBodySectionName("BODY.PEEK[HEADER.FIELDS (MESSAGE-ID X-MS-ID)]")
	if err != nil {
		return nil, err
	}

	seq := new(imap.SeqSet)
	seq.AddRange(1, mbox.Messages)
	items := []imap.FetchItem{
		imap.FetchUid, imap.FetchRFC822Size, imap.FetchInternalDate,
		imap.FetchFlags, imap.FetchEnvelope, section.FetchItem(),
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Fetch(seq, items, messages)
	}()

	var index []*IndexEntry
	for msg := range messages {
		entry := &IndexEntry{
			UID:   msg.Uid,
			Size:  msg.Size,
			Date:  msg.InternalDate,
			Flags: filterFlags(msg.Flags),
		}
		if msg.Envelope != nil {
			entry.MessageID = strings.Trim(msg.Envelope.MessageId, "<>")
			if len(msg.Envelope.From) > 0 {
				entry.From = msg.Envelope.From[0].Address()
			}
		}
		if literal := msg.GetBody(section); literal != nil {
			mid, sourceID := parseIndexHeader(literal)
			if entry.MessageID == "" {
				entry.MessageID = mid
			}
			entry.SourceID = sourceID
		}
		index = append(index, entry)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message index: %w", err)
	}
	return index, nil
}

// FetchMessage fetches a full message by UID. Messages larger than
// types.MaxItemSize are staged in a file under stageDir and the file
// path is returned instead of the content.
func (c *Client) FetchMessage(name string, uid uint32, size int64, stageDir string) (content []byte, filename string, err error) {
	if _, err = c.Select(name, true); err != nil {
		return nil, "", err
	}

	section, err := imap.ParseBodySectionName("BODY.PEEK[]")
	if err != nil {
		return nil, "", err
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seq, items, messages)
	}()

	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		if size > types.MaxItemSize {
			filename, err = stageLiteral(literal, stageDir)
		} else {
			content, err = io.ReadAll(literal)
		}
	}

	if ferr := <-done; ferr != nil {
		return nil, "", fmt.Errorf("failed to fetch message %d: %w", uid, ferr)
	}
	if err != nil {
		return nil, "", err
	}
	if content == nil && filename == "" {
		return nil, "", fmt.Errorf("message %d not found in %s", uid, name)
	}
	return content, filename, nil
}

// Append stores a message with the given flags and internal date.
func (c *Client) Append(name string, flags []string, date time.Time, literal imap.Literal) error {
	if err := c.client.Append(name, flags, date, literal); err != nil {
		return errs.Store("failed to append message: %w", err)
	}
	return nil
}

// SearchHeader runs a UID search for undeleted messages carrying the
// given header value.
func (c *Client) SearchHeader(name, header, value string) ([]uint32, error) {
	if _, err := c.Select(name, true); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	criteria.Header = textproto.MIMEHeader{header: []string{value}}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search folder %s: %w", name, err)
	}
	return uids, nil
}

// SearchMessageIDs runs one UID search matching any of the given
// Message-ID values, OR-joined.
func (c *Client) SearchMessageIDs(name string, ids []string) ([]uint32, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := c.Select(name, true); err != nil {
		return nil, err
	}

	cur := messageIDCriterion(ids[0])
	for _, id := range ids[1:] {
		or := imap.NewSearchCriteria()
		or.Or = [][2]*imap.SearchCriteria{{cur, messageIDCriterion(id)}}
		cur = or
	}
	cur.WithoutFlags = []string{imap.DeletedFlag}

	uids, err := c.client.UidSearch(cur)
	if err != nil {
		return nil, fmt.Errorf("failed to search folder %s: %w", name, err)
	}
	return uids, nil
}

// ReplaceFlags overwrites the flags of a message.
func (c *Client) ReplaceFlags(name string, uid uint32, flags []string) error {
	if _, err := c.Select(name, false); err != nil {
		return err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	item := imap.FormatFlagsOp(imap.SetFlags, true)
	args := make([]interface{}, len(flags))
	for i, f := range flags {
		args[i] = f
	}
	if err := c.client.UidStore(seq, item, args, nil); err != nil {
		return errs.Store("failed to replace flags: %w", err)
	}
	return nil
}

// DeleteMessage flags a message deleted and expunges the mailbox.
func (c *Client) DeleteMessage(name string, uid uint32) error {
	if _, err := c.Select(name, false); err != nil {
		return err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.client.UidStore(seq, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return errs.Store("failed to delete message: %w", err)
	}
	if err := c.client.Expunge(nil); err != nil {
		return errs.Store("failed to expunge folder: %w", err)
	}
	return nil
}

// filterFlags drops session-only flags that have no meaning on the
// destination.
func filterFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f == imap.RecentFlag {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func messageIDCriterion(id string) *imap.SearchCriteria {
	crit := imap.NewSearchCriteria()
	crit.Header = textproto.MIMEHeader{"Message-Id": []string{id}}
	return crit
}

func parseIndexHeader(literal imap.Literal) (messageID, sourceID string) {
	tp := textproto.NewReader(bufio.NewReader(literal))
	header, err := tp.ReadMIMEHeader()
	if err != nil && header == nil {
		return "", ""
	}
	return strings.Trim(header.Get("Message-Id"), "<>"), header.Get("X-Ms-Id")
}

func stageLiteral(literal imap.Literal, stageDir string) (string, error) {
	f, err := os.CreateTemp(stageDir, "msg-*.eml")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(f, literal); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage message: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// Literal wraps a byte slice as an IMAP literal.
func Literal(b []byte) imap.Literal {
	return bytes.NewBuffer(b)
}

// FileLiteral opens a staged file as an IMAP literal. The caller owns
// the returned closer.
func FileLiteral(path string) (imap.Literal, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &fileLiteral{f: f, size: int(fi.Size())}, f, nil
}

type fileLiteral struct {
	f    *os.File
	size int
}

func (l *fileLiteral) Read(p []byte) (int, error) { return l.f.Read(p) }
func (l *fileLiteral) Len() int                   { return l.size }
