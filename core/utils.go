package core

import "strings"

// CleanString normalizes free text typed by admins or learners: surrounding whitespace goes,
// and identifiers (usernames, emails, slugs, levels) pass lower=true to compare case-insensitively.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		s = strings.ToLower(s)
	}
	return s
}

// CleanStrings cleans every item of ss in place and drops the ones left empty.
func CleanStrings(ss []string, lower bool) []string {
	out := ss[:0]
	for _, s := range ss {
		if s = CleanString(s, lower); s != "" {
			out = append(out, s)
		}
	}
	return out
}
