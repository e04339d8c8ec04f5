package canon

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigitRe = regexp.MustCompile(`\D`)
	numericRe  = regexp.MustCompile(`[^0-9.\-]`)
)

// SanitizeEmail validates an email address. Returns ok=false when the
// value cannot be a valid address.
func SanitizeEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !emailRe.MatchString(s) {
		return "", false
	}
	return s, true
}

// SanitizeURL normalizes a URL, prefixing https:// when the bare value
// does not parse as an absolute URL.
func SanitizeURL(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u, err = url.Parse("https://" + s)
		if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
			return "", false
		}
	}
	return u.String(), true
}

// SanitizePhone strips everything but digits and requires at least ten of
// them. A leading + is preserved.
func SanitizePhone(s string) (string, bool) {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")
	digits := nonDigitRe.ReplaceAllString(s, "")
	if len(digits) < 10 {
		return "", false
	}
	if plus {
		return "+" + digits, true
	}
	return digits, true
}

// SanitizeNumber coerces a string to a float by dropping everything that
// is not a digit, dot, or minus before parsing.
func SanitizeNumber(s string) (float64, bool) {
	cleaned := numericRe.ReplaceAllString(strings.TrimSpace(s), "")
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var dateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// SanitizeDate parses common date shapes and renders the ISO date
// (YYYY-MM-DD) the page store expects.
func SanitizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// truthyTokens are the strings coerced to true for checkbox targets.
var truthyTokens = map[string]bool{
	"true": true, "yes": true, "1": true, "on": true, "checked": true,
}

// Truthy reports whether a canonical value coerces to boolean true.
func Truthy(v Value) bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNum:
		return v.Num != 0
	case KindText:
		return truthyTokens[strings.ToLower(strings.TrimSpace(v.Str))]
	default:
		return false
	}
}
