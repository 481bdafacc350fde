// Package sanitize implements §4.G step 4: message body validation, HTML sanitization, and the
// extraction of @mentions and the /play sound command from the pre-sanitization text.
package sanitize

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// MaxBodyLength is the maximum message body length, post-sanitization, in runes (§4.G step 4).
const MaxBodyLength = 10_000

var (
	// ErrContainsNUL is returned when the body contains a NUL byte.
	ErrContainsNUL = errors.New("message body contains a NUL byte")
	// ErrTooLong is returned when the sanitized body exceeds MaxBodyLength.
	ErrTooLong = errors.New("message body exceeds maximum length")
)

var mentionPattern = regexp.MustCompile(`@([\pL\pN_.]{2,32})`)

// Policy returns the bluemonday policy used to sanitize message bodies: the limited set of inline
// formatting tags named in §4.G step 4, with anchor hrefs restricted to http(s).
func Policy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "code", "pre", "a")
	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(true)
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https")
	return p
}

// Sanitizer holds a prebuilt policy so callers do not rebuild bluemonday's tokenizer tables per call.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func New() *Sanitizer {
	return &Sanitizer{policy: Policy()}
}

// Body strips disallowed control characters, rejects NUL bytes, runs the HTML policy, and enforces
// the maximum length, all in the order required by §4.G step 4. It operates on the raw body so
// ExtractMentions and ExtractSoundCommand can be run by the caller against the same raw text before
// this strips any markup they depend on.
func (s *Sanitizer) Body(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", ErrContainsNUL
	}

	stripped := stripControlExceptNewline(raw)
	clean := s.policy.Sanitize(stripped)

	if len([]rune(clean)) > MaxBodyLength {
		return "", ErrTooLong
	}
	return clean, nil
}

// Snippet sanitizes a search-result snippet (§4.J step 3: "the sanitization policy applies to
// snippets too") and converts the store's private-use-area highlight markers into a <mark> span,
// applied after sanitization so the policy can never strip the markers themselves.
func (s *Sanitizer) Snippet(raw string, openMarker, closeMarker string) string {
	stripped := stripControlExceptNewline(raw)
	clean := s.policy.Sanitize(stripped)
	clean = strings.ReplaceAll(clean, openMarker, "<mark>")
	clean = strings.ReplaceAll(clean, closeMarker, "</mark>")
	return clean
}

// stripControlExceptNewline removes C0/C1 control characters other than '\n', per §4.G step 4.
func stripControlExceptNewline(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExtractMentions scans raw (pre-sanitization) text for @<name> tokens and resolves each against
// members, a map of lowercased display name to user id. Duplicates collapse into a set; the returned
// order is stable by first occurrence.
func ExtractMentions(raw string, members map[string]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID

	for _, match := range mentionPattern.FindAllStringSubmatch(raw, -1) {
		name := strings.ToLower(match[1])
		id, ok := members[name]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ExtractSoundCommand returns the sound name if raw begins with "/play <sound>" and <sound> is in
// allowed; otherwise it returns "" (no command).
func ExtractSoundCommand(raw string, allowed map[string]struct{}) string {
	const prefix = "/play "
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, prefix) {
		return ""
	}
	name := strings.ToLower(strings.TrimSpace(trimmed[len(prefix):]))
	if name == "" {
		return ""
	}
	// A sound command occupies the whole message; reject anything with trailing content.
	if strings.ContainsAny(name, " \n\t") {
		return ""
	}
	if _, ok := allowed[name]; !ok {
		return ""
	}
	return name
}

// ValidHref reports whether href parses as an absolute http(s) URL, mirroring the restriction the
// sanitization policy enforces on <a> tags. Exposed for tests and for callers that need to pre-check
// a link before constructing a message.
func ValidHref(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
