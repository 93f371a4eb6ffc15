package convert

import (
	"fmt"
	"strings"

	"github.com/brandon/mailmigrate/pkg/types"
)

// contactConverter repairs the vCard export of a contact. Exchange
// emits placeholder lines for unset names and leaves out the UID, and
// some properties only exist as separate item fields that have to be
// re-added as vCard properties.
type contactConverter struct{}

func (c *contactConverter) Type() string    { return types.TypeContact }
func (c *contactConverter) FileExt() string { return "vcf" }

func (c *contactConverter) Convert(src *Source, ctx *Context) ([]byte, error) {
	card := string(src.Mime)
	if !strings.Contains(card, "BEGIN:VCARD") {
		return nil, fmt.Errorf("contact export contains no VCARD block")
	}

	lines := strings.Split(card, "\r\n")
	out := make([]string, 0, len(lines)+4)
	hasUID, hasRev := false, false

	for _, line := range lines {
		// Placeholder lines emitted for unset name properties
		if line == "FN:(null)" || line == "N:;;;;" {
			continue
		}
		if strings.HasPrefix(line, "UID:") || strings.HasPrefix(line, "UID;") {
			hasUID = true
		}
		if strings.HasPrefix(line, "REV:") || strings.HasPrefix(line, "REV;") {
			hasRev = true
		}
		out = append(out, line)
	}

	extra := []string{"X-MS-ID:" + foldValue("X-MS-ID", src.ItemID)}
	if !hasUID {
		extra = append(extra, "UID:"+ItemUID(src.UID, src.ItemID))
	}
	if !hasRev && !src.LastModified.IsZero() {
		extra = append(extra, "REV:"+src.LastModified.UTC().Format("20060102T150405Z"))
	}

	// Inject right after BEGIN:VCARD
	for i, line := range out {
		if line == "BEGIN:VCARD" {
			merged := make([]string, 0, len(out)+len(extra))
			merged = append(merged, out[:i+1]...)
			merged = append(merged, extra...)
			merged = append(merged, out[i+1:]...)
			out = merged
			break
		}
	}

	return []byte(strings.Join(out, "\r\n")), nil
}
