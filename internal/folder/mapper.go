// Package folder maps source folder paths to destination mailbox names
// and decides which folders a run touches.
package folder

import (
	"strings"
)

// Characters Cyrus IMAP rejects in mailbox names.
const forbiddenChars = ";<?\\|`!{}()"

// Sanitize rewrites a folder name segment so the destination IMAP
// server accepts it. Forbidden characters become underscores and "@"
// becomes "at".
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '@':
			b.WriteString("at")
		case strings.ContainsRune(forbiddenChars, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MapMailbox converts a source directory path into a destination
// mailbox name. rootDepth says how many leading path segments belong to
// the export root and carry no folder information. A leading "inbox"
// segment (any case) is dropped when deeper segments follow; an export
// folder that is nothing but the inbox maps to INBOX itself.
func MapMailbox(path string, rootDepth int, delimiter string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if rootDepth > 0 && len(parts) > rootDepth {
		parts = parts[rootDepth:]
	}

	if len(parts) > 0 && strings.EqualFold(parts[0], "inbox") {
		if len(parts) == 1 {
			return "INBOX"
		}
		parts = parts[1:]
	}

	for i, p := range parts {
		parts[i] = Sanitize(p)
	}

	return strings.Join(parts, delimiter)
}
