package annotation

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var onlyAllowed = regexp.MustCompile(`^[A-Za-z0-9\s]*$`)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Hello!! @bot http://x", want: "Hello bot httpx"},
		{in: "$AAPL up 3.5% #stocks", want: "AAPL up 35 stocks"},
		{in: "line one\nline\ttwo", want: "line one\nline\ttwo"},
		{in: "café ☕ naïve", want: "caf  nave"},
		{in: "a+b=c", want: "abc"},
		{in: "", want: ""},
		{in: "!!!", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), "Clean(%q)", tt.in)
	}
}

func TestClean_OnlyAllowedCharactersAndIdempotent(t *testing.T) {
	inputs := []string{
		"RT @someone: Markets 📈 are <b>up</b> & away!",
		"日本語のツイート 123",
		"tabs\tand\r\nnewlines?",
		"emoji-only 🎉🎉🎉",
		"https://t.co/abc?x=1&y=2",
	}

	for _, in := range inputs {
		once := Clean(in)
		assert.Regexp(t, onlyAllowed, once, "input %q", in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}
