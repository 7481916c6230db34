package mirror

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxNameBytes leaves room for the id suffix and extension under the
// 255 byte name limit of common filesystems.
const maxNameBytes = 200

// maxExtBytes is the longest extension kept when an attachment name is
// shortened
const maxExtBytes = 16

var unsafeChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f\x7f]`)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName maps an arbitrary title or filename to a single path segment
// that is valid on every common filesystem. The mapping is deterministic;
// changing it changes every path in an existing mirror.
func SanitizeName(name string) string {
	s := cleanName(name)
	s = truncateName(s, maxNameBytes)
	if s == "" {
		return "_"
	}

	stem := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		stem = s[:i]
	}
	if reservedNames[strings.ToUpper(stem)] {
		s = "_" + s
	}
	return s
}

func cleanName(name string) string {
	s := norm.NFC.String(name)
	s = unsafeChars.ReplaceAllString(s, "_")
	return strings.Trim(s, " .")
}

// truncateName cuts s to at most max bytes without splitting a character
func truncateName(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " .")
}

// PagePath returns the slash separated mirror path of a page. The id suffix
// keeps pages whose titles sanitize to the same name apart.
func PagePath(spaceKey, id, title string) string {
	return path.Join(SanitizeName(spaceKey), SanitizeName(title)+"_"+SanitizeName(id)+".html")
}

// StubPath returns the path of the forward stub named after the page id
func StubPath(spaceKey, id string) string {
	return path.Join(SanitizeName(spaceKey), SanitizeName(id)+".html")
}

// SpaceIndexPath returns the path of a space's page tree
func SpaceIndexPath(spaceKey string) string {
	return path.Join(SanitizeName(spaceKey), "index.html")
}

// AttachmentPath returns the mirror path of an attachment. A name that had
// to be sanitized gets the attachment id inserted before its extension.
func AttachmentPath(spaceKey, attachmentsDir, pageID, attID, filename string) string {
	name := SanitizeName(filename)
	if name != filename && attID != "" {
		ext := path.Ext(cleanName(filename))
		if len(ext) > maxExtBytes {
			ext = ""
		}
		stem := strings.TrimSuffix(name, ext)
		suffix := "_" + SanitizeName(attID) + ext
		name = truncateName(stem, maxNameBytes-len(suffix)) + suffix
	}
	return path.Join(SanitizeName(spaceKey), SanitizeName(attachmentsDir), SanitizeName(pageID), name)
}

// relHref returns an escaped href from a page in fromDir to target. Both are
// slash separated and relative to the mirror root.
func relHref(fromDir, target string) string {
	from := splitPath(fromDir)
	to := splitPath(target)

	common := 0
	for common < len(from) && common < len(to)-1 && from[common] == to[common] {
		common++
	}

	segs := make([]string, 0, len(from)-common+len(to)-common)
	for range from[common:] {
		segs = append(segs, "..")
	}
	for _, s := range to[common:] {
		segs = append(segs, escapeSegment(s))
	}
	return strings.Join(segs, "/")
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func escapeSegment(s string) string {
	return url.PathEscape(s)
}
