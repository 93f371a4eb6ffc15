package convert

import (
	"bytes"
	"regexp"

	"github.com/brandon/mailmigrate/pkg/types"
)

// emailConverter passes mail messages through mostly untouched: it
// normalizes line endings and records the source item identifier in an
// X-MS-ID header so reruns can correlate the stored copy.
type emailConverter struct{}

func (c *emailConverter) Type() string    { return types.TypeMail }
func (c *emailConverter) FileExt() string { return "eml" }

var bareLF = regexp.MustCompile(`([^\r])\n`)

func (c *emailConverter) Convert(src *Source, ctx *Context) ([]byte, error) {
	msg := src.Mime

	// IMAP servers reject bare LF line endings
	msg = bareLF.ReplaceAll(msg, []byte("$1\r\n"))
	if len(msg) > 0 && msg[0] == '\n' {
		msg = append([]byte("\r"), msg...)
	}

	if src.ItemID != "" && !bytes.Contains(msg, []byte("\r\nX-MS-ID:")) {
		header := []byte("X-MS-ID: " + src.ItemID + "\r\n")
		msg = append(header, msg...)
	}

	return msg, nil
}
