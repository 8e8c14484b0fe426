package tts

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var spaceRegex = regexp.MustCompile(`\s+`)

// MarkdownStripper turns a markdown sentence from the chat stream into the
// plain text sent to the synthesizer. The displayed text keeps its markup.
type MarkdownStripper struct {
	md             goldmark.Markdown
	skipCodeBlocks bool
}

// NewMarkdownStripper creates a stripper that drops code blocks.
func NewMarkdownStripper() *MarkdownStripper {
	return &MarkdownStripper{
		md:             goldmark.New(),
		skipCodeBlocks: true,
	}
}

// Strip removes markdown formatting from text and collapses whitespace.
func (s *MarkdownStripper) Strip(markdown string) string {
	reader := text.NewReader([]byte(markdown))
	doc := s.md.Parser().Parse(reader)

	var buf strings.Builder
	s.walkNode(doc, reader.Source(), &buf)

	return strings.TrimSpace(spaceRegex.ReplaceAllString(buf.String(), " "))
}

// walkNode recursively walks the AST and extracts text content.
func (s *MarkdownStripper) walkNode(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock:
		if s.skipCodeBlocks {
			return
		}
		for i := 0; i < n.Lines().Len(); i++ {
			line := n.Lines().At(i)
			buf.Write(line.Value(source))
		}
		return

	case *ast.HTMLBlock, *ast.RawHTML:
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteString(" ")
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.CodeSpan:
		// Inline code is read as-is, without backticks
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return

	case *ast.Image:
		// Alt text only
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			s.walkNode(c, source, buf)
		}
		return

	case *ast.AutoLink:
		buf.Write(n.Label(source))
		return

	case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.ThematicBreak:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			s.walkNode(c, source, buf)
		}
		buf.WriteString(" ")
		return
	}

	// Links, emphasis, lists and quotes contribute their children
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		s.walkNode(c, source, buf)
	}
}
