package annotation

import "regexp"

var disallowed = regexp.MustCompile(`[^A-Za-z0-9\s]+`)

// Clean strips every character that is not an ASCII letter, digit or whitespace.
// Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	return disallowed.ReplaceAllString(text, "")
}
