package upload

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 200

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename reduces name to [a-zA-Z0-9._-]. Accented letters are
// folded to their base letter first so "résumé.pdf" becomes "resume.pdf"
// rather than "r_sum_.pdf".
func SanitizeFilename(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	safe := unsafeChars.ReplaceAllString(strings.TrimSpace(folded), "_")
	if len(safe) > maxFilenameLen {
		safe = safe[len(safe)-maxFilenameLen:]
	}
	switch safe {
	case "", ".", "..":
		return "unknown"
	}
	return safe
}

func keySegment(s string) string {
	seg := unsafeChars.ReplaceAllString(s, "_")
	if seg == "." || seg == ".." {
		return strings.Repeat("_", len(seg))
	}
	return seg
}

// ObjectKey builds <client>/<yyyy>/<MM>/<dd>/<upload>/<unixMillis>-<file>
// from the UTC date of now.
func ObjectKey(clientID, uploadID, filename string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%d-%s",
		keySegment(clientID),
		now.Year(), int(now.Month()), now.Day(),
		keySegment(uploadID),
		now.UnixMilli(),
		SanitizeFilename(filename),
	)
}
