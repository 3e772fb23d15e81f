// Package privacy scrubs credentials and connection strings from text
// before it leaves the process in logs, API responses or telemetry.
package privacy

import (
	"net/url"
	"regexp"
)

const redacted = "[REDACTED]"

// Pre-compiled patterns, ScrubMessage runs on every reported error.
var (
	urlQueryPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	userinfoPattern = regexp.MustCompile(`\b([a-z][a-z0-9+.-]*://)[^/@\s]+@`)
	secretPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)token[=:]\S+`),
		regexp.MustCompile(`(?i)password[=:]\S+`),
		regexp.MustCompile(`(?i)bearer\s+\S+`),
		regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	}
)

// ScrubMessage redacts query strings, URL credentials and API keys in
// message. Scheme, host and path survive so the message stays useful.
func ScrubMessage(message string) string {
	scrubbed := urlQueryPattern.ReplaceAllString(message, "$1?"+redacted)
	scrubbed = userinfoPattern.ReplaceAllString(scrubbed, "${1}"+redacted+"@")
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, redacted)
	}
	return scrubbed
}

// RedactURL returns rawURL without user info, query or fragment. Strings
// that do not parse as URLs are scrubbed as free text.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return ScrubMessage(rawURL)
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = redacted
	}
	u.Fragment = ""
	return u.String()
}

// SanitizedError keeps the original error for errors.Is and errors.As
// while printing a scrubbed message.
type SanitizedError struct {
	original     error
	sanitizedMsg string
}

func (e *SanitizedError) Error() string { return e.sanitizedMsg }

func (e *SanitizedError) Unwrap() error { return e.original }

// WrapError returns err with a scrubbed message, or nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{original: err, sanitizedMsg: ScrubMessage(err.Error())}
}
