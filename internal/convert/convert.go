// Package convert turns source item payloads into objects the
// destination accepts: RFC 5322 mail, iCalendar events and todos,
// vCards. Converters are looked up by the source item class.
package convert

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/internal/errs"
	"github.com/brandon/mailmigrate/pkg/types"
)

// Source item classes with converters.
const (
	ClassNote        = "IPM.Note"
	ClassAppointment = "IPM.Appointment"
	ClassContact     = "IPM.Contact"
	ClassDistList    = "IPM.DistList"
	ClassTask        = "IPM.Task"
)

// Context carries run-level conversion state.
type Context struct {
	// OwnerEmail is the destination account owner, used for ORGANIZER.
	OwnerEmail string
	Logger     *logrus.Logger
}

// Attachment is a fetched source attachment body.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Member is a distribution list entry.
type Member struct {
	// ItemID is set when the member is a contact in the same account.
	ItemID string
	Name   string
	Email  string
}

// Source is the protocol-neutral item representation converters
// consume. Drivers fill the fields their item class needs.
type Source struct {
	ItemID string
	Class  string
	// UID is the source-native object UID when the protocol exposes
	// one. Empty means the converter derives a stable UID from ItemID.
	UID string
	// Mime is the decoded MIME content for classes exported that way.
	Mime        []byte
	Attachments []Attachment

	// Fields for synthesized classes (tasks, distribution lists).
	Subject         string
	Body            string
	DisplayName     string
	Members         []Member
	Created         time.Time
	LastModified    time.Time
	Due             time.Time
	Start           time.Time
	PercentComplete int
	Status          string
	Sensitivity     string
	Importance      string
	Categories      []string
	ChangeCount     int
	ReminderSet     bool
	ReminderTime    time.Time
	Recurrence      *Recurrence
}

// Converter converts one item class into its destination payload.
type Converter interface {
	// Type is the destination folder type the output belongs to.
	Type() string
	// FileExt is the staging file extension for converted payloads.
	FileExt() string
	Convert(src *Source, ctx *Context) ([]byte, error)
}

var converters = map[string]Converter{
	ClassNote:        &emailConverter{},
	ClassAppointment: &appointmentConverter{},
	ClassContact:     &contactConverter{},
	ClassDistList:    &distListConverter{},
	ClassTask:        &taskConverter{},
}

// ForClass returns the converter handling the given item class, or an
// unsupported-type error. The class match tolerates subclass suffixes
// (IPM.Note.SMIME handled as IPM.Note).
func ForClass(class string) (Converter, error) {
	if c, ok := converters[class]; ok {
		return c, nil
	}
	for prefix, c := range converters {
		if strings.HasPrefix(class, prefix+".") {
			return c, nil
		}
	}
	return nil, errs.Unsupported(class)
}

// Supported reports whether the item class has a converter.
func Supported(class string) bool {
	_, err := ForClass(class)
	return err == nil
}

// ItemUID returns the object UID for an item: the source-native UID
// when present, otherwise a stable digest of the item identifier so
// reruns generate the same UID. Exchange identifiers carry a change
// key after "!" that moves on every modification; only the id part is
// digested, so a modified item keeps its UID and group member
// references stay resolvable.
func ItemUID(nativeUID, itemID string) string {
	if nativeUID != "" {
		return nativeUID
	}
	id, _, _ := strings.Cut(itemID, "!")
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

// SafeUID strips characters that cannot appear in staging file names.
func SafeUID(uid string) string {
	var b strings.Builder
	b.Grow(len(uid))
	for _, r := range uid {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == ':' || r == '@' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TypeForClass maps an item class to its destination folder type.
func TypeForClass(class string) string {
	c, err := ForClass(class)
	if err != nil {
		return types.TypeMail
	}
	return c.Type()
}
