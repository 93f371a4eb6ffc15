package convert

import (
	"encoding/base64"
	"strings"
)

// foldWidth is the content line width used when injecting binary
// attachment bodies into iCalendar output.
const foldWidth = 74

// foldBase64 encodes data and splits the result into foldWidth-sized
// chunks joined by CRLF plus a leading space, the iCalendar
// continuation-line form. Every chunk ends with the separator except
// that a trailing space is trimmed.
func foldBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)

	var b strings.Builder
	b.Grow(len(enc) + (len(enc)/foldWidth+1)*3)
	for len(enc) > foldWidth {
		b.WriteString(enc[:foldWidth])
		b.WriteString("\r\n ")
		enc = enc[foldWidth:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	return b.String()
}

// foldValue splits value so that "<name>:<value>" fits iCalendar's
// 75-octet line limit, joining parts with CRLF plus a leading space.
func foldValue(name, value string) string {
	width := 75 - len(name) - 1
	if width < 1 || len(value) <= width {
		return value
	}
	var parts []string
	for len(value) > width {
		parts = append(parts, value[:width])
		value = value[width:]
	}
	parts = append(parts, value)
	return strings.Join(parts, "\r\n ")
}
