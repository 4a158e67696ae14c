// Package links finds package links in free text.
//
// A package link is an absolute http(s) URL that carries a fragment, the
// fragment holding the key code needed to decrypt the package. Plain web links
// without a fragment are common in notification emails and are ignored.
package links

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/sendgrab/sendgrab/internal/failure"
)

// Link identifies one remote package.
type Link string

func (l Link) String() string {
	return string(l)
}

// Redacted returns the link without its fragment, which holds the key code.
func (l Link) Redacted() string {
	s := string(l)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i] + "#redacted"
	}
	return s
}

// Format is the kind of input text.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// ParseFormat converts a flag value into a Format.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatAuto, "":
		return FormatAuto, true
	case FormatText:
		return FormatText, true
	case FormatHTML:
		return FormatHTML, true
	default:
		return "", false
	}
}

var schemeStart = regexp.MustCompile(`(?i)https?://`)

const (
	trailingPunct = ".,;:!?"

	packageCodeParam = "packageCode"
	keyCodeParam     = "keyCode"
	receivePath      = "receive"
)

// Extract returns the distinct package links in text, in order of first occurrence.
// Link-shaped tokens that are not valid package links are a LinkParse error.
func Extract(text string) ([]Link, error) {
	found := make([]Link, 0)
	seen := make(map[Link]struct{})

	pos := 0
	for pos < len(text) {
		loc := schemeStart.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		end := tokenEnd(text, start+loc[1]-loc[0])
		pos = end

		token := trimToken(text[start:end])
		if !strings.Contains(token, "#") {
			continue
		}
		if _, _, err := parse(token, "extract links"); err != nil {
			return nil, err
		}

		link := Link(token)
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		found = append(found, link)
	}

	return found, nil
}

// Detect sniffs data and reports whether it should be parsed as HTML.
func Detect(data []byte) Format {
	if strings.HasPrefix(http.DetectContentType(data), "text/html") {
		return FormatHTML
	}
	return FormatText
}

func tokenEnd(text string, from int) int {
	for i, r := range text[from:] {
		if isTerminator(r) {
			return from + i
		}
	}
	return len(text)
}

func isTerminator(r rune) bool {
	switch r {
	case '"', '\'', '`', '<', '>':
		return true
	}
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

func trimToken(tok string) string {
	for tok != "" {
		last := tok[len(tok)-1]
		switch {
		case strings.IndexByte(trailingPunct, last) >= 0:
			tok = tok[:len(tok)-1]
		case last == ')' && unbalanced(tok, '(', ')'),
			last == ']' && unbalanced(tok, '[', ']'),
			last == '}' && unbalanced(tok, '{', '}'):
			tok = tok[:len(tok)-1]
		default:
			return tok
		}
	}
	return tok
}

func unbalanced(tok string, opening, closing byte) bool {
	return strings.Count(tok, string(closing)) > strings.Count(tok, string(opening))
}

// Parse splits a package link into its package code and key code.
//
// The package code is the packageCode query parameter, or the last path
// segment for short links. The key code is the keyCode fragment parameter when
// the fragment is a parameter list, or the whole fragment otherwise.
func Parse(link string) (packageCode, keyCode string, err error) {
	return parse(link, "parse link")
}

func parse(link, op string) (packageCode, keyCode string, err error) {
	link = strings.TrimSpace(link)
	invalid := func(reason string) error {
		return failure.Newf(failure.LinkParse, op, "%q: %s: %w", Link(link).Redacted(), reason, failure.ErrInvalidLink)
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", "", invalid("malformed URL")
	}
	if u.Host == "" {
		return "", "", invalid("missing host")
	}

	packageCode = u.Query().Get(packageCodeParam)
	if packageCode == "" {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segments[len(segments)-1]; last != receivePath {
			packageCode = last
		}
	}
	if packageCode == "" {
		return "", "", invalid("missing package code")
	}

	_, fragment, _ := strings.Cut(link, "#")
	if strings.Contains(fragment, "=") {
		params, err := url.ParseQuery(fragment)
		if err != nil {
			return "", "", invalid("malformed fragment")
		}
		keyCode = params.Get(keyCodeParam)
	} else {
		keyCode = u.Fragment
	}
	if keyCode == "" {
		return "", "", invalid("missing key code")
	}

	return packageCode, keyCode, nil
}
