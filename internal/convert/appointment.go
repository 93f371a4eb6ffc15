package convert

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brandon/mailmigrate/pkg/types"
)

// appointmentConverter works on the iCalendar export of a calendar
// event. The source exports attachments as dangling ATTACH:CID:
// references whose content ids never match anything, so those lines
// are removed and the attachment bodies fetched separately get
// injected inline into the first VEVENT.
type appointmentConverter struct{}

func (c *appointmentConverter) Type() string    { return types.TypeEvent }
func (c *appointmentConverter) FileExt() string { return "ics" }

var (
	beginVEvent = regexp.MustCompile(`\r\nBEGIN:VEVENT\r\n`)
	// ATTACH:CID: line with its optional continuation line
	attachCID = regexp.MustCompile(`\r\nATTACH:CID:[^\r]+\r\n(\r\n [^\r\n]*)?`)
	// ATTACH:CID glued to the end of a preceding property value
	attachCIDGlued = regexp.MustCompile(`ATTACH:CID:[^\r]+\r\n`)
)

func (c *appointmentConverter) Convert(src *Source, ctx *Context) ([]byte, error) {
	ical := string(src.Mime)
	if !strings.Contains(ical, "BEGIN:VEVENT") {
		return nil, fmt.Errorf("event export contains no VEVENT block")
	}

	injected := false
	ical = beginVEvent.ReplaceAllStringFunc(ical, func(m string) string {
		if injected {
			return m
		}
		injected = true
		return "\r\nBEGIN:VEVENT\r\nX-MS-ID:" + foldValue("X-MS-ID", src.ItemID) + "\r\n"
	})

	if len(src.Attachments) > 0 {
		ical = attachCID.ReplaceAllString(ical, "")
		ical = attachCIDGlued.ReplaceAllString(ical, "\r\n")

		for _, a := range src.Attachments {
			// Exchange exports empty bodies for some plain text files
			if len(a.Content) == 0 {
				continue
			}
			attach := fmt.Sprintf("ATTACH;VALUE=BINARY;ENCODING=BASE64;X-LABEL=%s;FMTTYPE=%s:\r\n %s",
				a.Name, a.ContentType, foldBase64(a.Content))
			pos := strings.Index(ical, "\r\nEND:VEVENT")
			if pos < 0 {
				break
			}
			ical = ical[:pos+2] + attach + ical[pos+2:]
		}
	}

	return []byte(ical), nil
}
