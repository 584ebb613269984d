package slug

import (
	"regexp"
	"strings"
)

var reSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// IsSlug returns true if s matches ^[a-z0-9][a-z0-9-]{1,62}$
func IsSlug(s string) bool {
	return reSlug.MatchString(s)
}

// Slugify converts a display name to an account slug: lowercase, non [a-z0-9] -> '-',
// collapse repeats, trim to 63, and trim leading/trailing '-'.
func Slugify(s string) string {
	if s == "" {
		return s
	}
	out := make([]rune, 0, len(s))
	prevDash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			prevDash = false
		} else if !prevDash {
			out = append(out, '-')
			prevDash = true
		}
		if len(out) >= 63 {
			break
		}
	}
	return strings.Trim(string(out), "-")
}
