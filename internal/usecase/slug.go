package usecase

import "strings"

const maxSlugLen = 50

// Slugify lowercases s, turns every run of non-alphanumeric characters into
// one hyphen and trims hyphens from both ends. The result is capped at 50
// characters and is never empty.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	out := b.String()
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	if out == "" {
		return "idea"
	}
	return out
}
