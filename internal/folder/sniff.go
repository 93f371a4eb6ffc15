package folder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmigrate/pkg/types"
)

// Sniff inspects a staged folder directory and decides its type from
// the file extensions it holds: .ics means a calendar, .vcf an address
// book, anything else mail. Mixed content resolves in favor of the
// groupware type; coexisting .eml files are reported and ignored.
func Sniff(dir string, logger *logrus.Logger) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read folder directory: %w", err)
	}

	var ics, vcf, other int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".ics":
			ics++
		case ".vcf":
			vcf++
		default:
			other++
		}
	}

	switch {
	case ics > 0:
		if other > 0 {
			logger.WithField("folder", dir).Warn("Ignoring non-calendar files in calendar folder")
		}
		return types.TypeEvent, nil
	case vcf > 0:
		if other > 0 {
			logger.WithField("folder", dir).Warn("Ignoring non-vcard files in addressbook folder")
		}
		return types.TypeContact, nil
	default:
		return types.TypeMail, nil
	}
}
