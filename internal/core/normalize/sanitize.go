package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// controls matches NUL, ASCII controls other than \n \r \t, DEL and the C1 block
var controls = runes.Predicate(func(r rune) bool {
	switch r {
	case '\n', '\r', '\t':
		return false
	}
	return unicode.IsControl(r)
})

// Sanitize drops invalid UTF-8 bytes and control runes the destination store
// should never see. Fast path returns s unchanged when no cleaning is needed
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	if strings.IndexFunc(s, controls.Contains) < 0 {
		return s
	}
	out, _, err := transform.String(runes.Remove(controls), s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if controls.Contains(r) {
				return -1
			}
			return r
		}, s)
	}
	return out
}
