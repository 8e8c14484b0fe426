package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownStripper_Strip(t *testing.T) {
	stripper := NewMarkdownStripper()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "你好，世界。", "你好，世界。"},
		{"emphasis", "This is **very** *important*。", "This is very important。"},
		{"link", "See [the docs](https://example.com) now。", "See the docs now。"},
		{"code span", "Run `go test` first。", "Run go test first。"},
		{"heading", "## Summary。", "Summary。"},
		{"list item", "- first item。", "first item。"},
		{"fenced code", "```go\nfmt.Println()\n```", ""},
		{"soft break", "line one\nline two。", "line one line two。"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripper.Strip(tt.input))
		})
	}
}
