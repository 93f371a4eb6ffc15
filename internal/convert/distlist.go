package convert

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/emersion/go-vcard"

	"github.com/brandon/mailmigrate/pkg/types"
)

// distListConverter synthesizes a vCard 4.0 group for a distribution
// list, which the source only exports as an eml snapshot. Members that
// are contacts in the same account become urn:uuid references matching
// the UID the contact converter derives; plain addresses become
// mailto: members.
type distListConverter struct{}

func (c *distListConverter) Type() string    { return types.TypeContact }
func (c *distListConverter) FileExt() string { return "vcf" }

func (c *distListConverter) Convert(src *Source, ctx *Context) ([]byte, error) {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldUID, ItemUID(src.UID, src.ItemID))
	card.SetValue(vcard.FieldKind, string(vcard.KindGroup))
	card.SetValue(vcard.FieldFormattedName, src.DisplayName)
	card.SetValue("PRODID", "Kolab EWS Data Migrator")
	card.SetValue("X-MS-ID", src.ItemID)
	if !src.LastModified.IsZero() {
		card.SetValue(vcard.FieldRevision, src.LastModified.UTC().Format("2006-01-02T15:04:05Z"))
	}

	for _, m := range src.Members {
		switch {
		case m.ItemID != "":
			card.AddValue(vcard.FieldMember, "urn:uuid:"+ItemUID("", m.ItemID))
		case m.Email != "":
			mailto := m.Email
			if m.Name != "" && m.Name != m.Email {
				name := strings.ReplaceAll(m.Name, `"`, `\"`)
				mailto = url.QueryEscape(`"` + name + `" <` + m.Email + `>`)
			}
			card.AddValue(vcard.FieldMember, "mailto:"+mailto)
		}
	}

	if src.Body != "" {
		card.SetValue(vcard.FieldNote, src.Body)
	}

	vcard.ToV4(card)

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("failed to encode group vcard: %w", err)
	}
	return buf.Bytes(), nil
}
