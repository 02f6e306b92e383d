package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render //nolint:mnd
	subtle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}).Render
	heading   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF8C00")).Render
	warning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94")).Render
)

func glamourStyle(style string) glamour.TermRendererOption {
	if style == styles.AutoStyle {
		return glamour.WithAutoStyle()
	}
	return glamour.WithStylePath(style)
}

// renderMarkdown renders md with the configured style and width.
func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		glamourStyle(style),
		glamour.WithWordWrap(int(width)), //nolint:gosec
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return "", fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("unable to render markdown: %w", err)
	}
	return out, nil
}

// renderPlain strips markdown from md and wraps it at the configured width.
func renderPlain(md string) string {
	w := int(width) //nolint:gosec
	if w > 4 { //nolint:mnd
		w -= 2
	}
	return indent.String(wordwrap.String(stripMarkdown(md), w), 2) + "\n" //nolint:mnd
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// stripMarkdown extracts the plain text of md, keeping paragraph breaks and
// list bullets.
func stripMarkdown(md string) string {
	reader := text.NewReader([]byte(md))
	doc := goldmark.New().Parser().Parse(reader)

	var buf strings.Builder
	walkNode(doc, reader.Source(), &buf)
	return strings.TrimSpace(blankLines.ReplaceAllString(buf.String(), "\n\n"))
}

func walkNode(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		buf.WriteString("\n")
		return

	case *ast.HTMLBlock, *ast.RawHTML, *ast.ThematicBreak:
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.HardLineBreak() || n.SoftLineBreak() {
			buf.WriteString("\n")
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.ListItem:
		buf.WriteString(bullet(n))
	}

	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		walkNode(child, source, buf)
	}

	switch node.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.Blockquote, *ast.List:
		buf.WriteString("\n\n")
	case *ast.TextBlock:
		buf.WriteString("\n")
	}
}

func bullet(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}
	i := list.Start
	for c := list.FirstChild(); c != nil && c != ast.Node(item); c = c.NextSibling() {
		i++
	}
	return fmt.Sprintf("%d. ", i)
}
