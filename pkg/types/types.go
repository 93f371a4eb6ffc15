package types

import (
	"fmt"
	"time"
)

// Folder types understood by the engine and drivers.
const (
	TypeMail          = "mail"
	TypeEvent         = "event"
	TypeTask          = "task"
	TypeContact       = "contact"
	TypeGroup         = "group"
	TypeConfiguration = "configuration"
	TypeFile          = "file"
)

// MaxItemSize is the threshold (in bytes) above which item content is
// staged in a temporary file instead of being held in memory.
const MaxItemSize = 20 * 1024 * 1024

// Account describes one endpoint of a migration run
type Account struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	// LoginAs is the mailbox to act on when authenticating with admin
	// credentials (mailbox**login style proxy logins).
	LoginAs string
	// Path is used by file-based schemes (archive:///path/to/export).
	Path string
	// URI is the account location as given, with credentials stripped.
	URI string
}

// Addr returns the host:port dial address.
func (a *Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Email returns the address identifying the account owner.
func (a *Account) Email() string {
	if a.LoginAs != "" {
		return a.LoginAs
	}
	return a.Username
}

// Folder represents a source folder and its destination mapping.
type Folder struct {
	// ID is the driver-specific folder identifier (EWS folder id,
	// IMAP mailbox name, directory path).
	ID string
	// FullName is the source-side folder path.
	FullName string
	// Type is one of the Type* constants.
	Type string
	// Targetname is the mapped destination folder name. Empty means
	// the folder maps to the destination root (INBOX).
	Targetname string
	// Total is the number of items in the folder when the source
	// driver knows it up front.
	Total int
}

// Item is a single object moving through the pipeline.
type Item struct {
	// ID is the driver-specific item identifier, stable across runs.
	ID string
	// Class is the source item class (IPM.Note, IPM.Contact, ...).
	Class string
	// UID is the converted object UID, filled during conversion.
	UID string

	Folder *Folder

	// Existing is set when the destination already holds a version of
	// this item; nil means the item is new on the destination.
	Existing *ExistingItem

	MessageID string
	Date      time.Time
	Size      int64
	Flags     []string
	Mtime     time.Time

	// Content holds the item payload when it fits in memory.
	Content []byte
	// Filename points at the staged payload when Content is nil.
	Filename string
}

// ExistingItem carries the destination-side state used for change
// detection and in-place updates.
type ExistingItem struct {
	// Href is the object location (DAV href or destination path).
	Href string
	// ImapUID is the destination IMAP UID, for replace-on-update.
	ImapUID uint32
	UID     string
	Size    int64
	Date    time.Time
	Flags   []string
	// Rev and DTStamp are the DAV-side change markers (vCard REV,
	// iCalendar DTSTAMP).
	Rev     string
	DTStamp string
	// SourceID is the source item identifier recorded on the stored
	// object (X-MS-ID). A matching SourceID means the stored copy is
	// current.
	SourceID string
}

// Tag is a Kolab relation object: a named label with message members.
type Tag struct {
	Name  string
	Color string
	// Mtime is the last-modification-date as recorded in the source
	// object, compared verbatim.
	Mtime string
	// Members are the raw member URLs from the relation object.
	Members []string
}
