package files

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// KolabFileType is the X-Kolab-Type header value marking file messages
// in a legacy file folder.
const KolabFileType = "application/x-vnd.kolab.file"

// kolabXMLType marks the embedded groupware descriptor part, which is
// not the file payload.
const kolabXMLType = "application/x-vnd.kolab+xml"

// FileMeta describes one migrated file.
type FileMeta struct {
	Name        string
	Size        int64
	ContentType string
	Mtime       time.Time
}

// ParseFileMessage extracts the file payload and metadata from a
// legacy file message: a MIME mail whose real content travels as an
// attachment next to a groupware XML descriptor. Attachment filenames
// use RFC 2231 continuation/encoding, which the MIME parser decodes.
func ParseFileMessage(raw []byte) (*FileMeta, []byte, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse file message: %w", err)
	}

	var part *enmime.Part
	for _, p := range append(env.Attachments, env.OtherParts...) {
		if strings.EqualFold(p.ContentType, kolabXMLType) {
			continue
		}
		if p.FileName == "" {
			continue
		}
		part = p
		break
	}
	if part == nil {
		return nil, nil, fmt.Errorf("file message has no file attachment")
	}

	meta := &FileMeta{
		Name:        part.FileName,
		Size:        int64(len(part.Content)),
		ContentType: part.ContentType,
	}
	if date := env.GetHeader("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			meta.Mtime = t.UTC()
		}
	}

	return meta, part.Content, nil
}

// Unchanged reports whether the stored copy matches the source file,
// by name and modification time.
func Unchanged(existing *FileEntry, meta *FileMeta) bool {
	if existing == nil {
		return false
	}
	return existing.Name == meta.Name &&
		!meta.Mtime.IsZero() &&
		existing.Mtime.Unix() == meta.Mtime.Unix()
}
