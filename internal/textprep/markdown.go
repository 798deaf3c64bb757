package textprep

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Parser renders Markdown to speech text and splits it into sentences.
type Parser struct {
	md            goldmark.Markdown
	includeCode   bool
	abbreviations map[string]bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithCodeBlocks reads code blocks aloud instead of skipping them.
func WithCodeBlocks(include bool) Option {
	return func(p *Parser) {
		p.includeCode = include
	}
}

// WithAbbreviations adds words that never end a sentence when followed by
// a period, such as titles. Words are matched case-insensitively without
// the trailing period.
func WithAbbreviations(words ...string) Option {
	return func(p *Parser) {
		for _, w := range words {
			p.abbreviations[strings.ToLower(strings.TrimSuffix(w, "."))] = true
		}
	}
}

// NewParser creates a parser for GitHub flavored Markdown.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		md:            goldmark.New(goldmark.WithExtensions(extension.GFM)),
		abbreviations: defaultAbbreviations(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Markdown renders src as plain text for speaking. Every block ends in
// punctuation so the voice pauses between headings, list items and
// paragraphs. Link targets, HTML and (by default) code blocks are dropped.
func (p *Parser) Markdown(src string) string {
	source := []byte(src)
	doc := p.md.Parser().Parse(text.NewReader(source))

	w := &speechWriter{source: source, includeCode: p.includeCode}
	w.block(doc)

	return Normalize(strings.Join(w.out, " "))
}

// speechWriter collects one string per spoken block.
type speechWriter struct {
	source      []byte
	includeCode bool
	out         []string
}

func (w *speechWriter) block(node ast.Node) {
	switch n := node.(type) {
	case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
		w.emit(w.inline(n))

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if w.includeCode {
			w.emit(w.lines(n))
		}

	case *ast.HTMLBlock, *ast.ThematicBreak:
		// Nothing to say

	case *ast.Blockquote:
		start := len(w.out)
		w.children(n)
		if start < len(w.out) {
			w.out[start] = "Quote: " + w.out[start]
		}

	case *east.Table:
		for row := n.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				if s := strings.TrimSpace(w.inline(cell)); s != "" {
					cells = append(cells, s)
				}
			}
			w.emit(strings.Join(cells, ", "))
		}

	default:
		w.children(n)
	}
}

func (w *speechWriter) children(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		w.block(c)
	}
}

// inline flattens the inline content of n.
func (w *speechWriter) inline(n ast.Node) string {
	var b strings.Builder
	w.writeInline(&b, n)
	return b.String()
}

func (w *speechWriter) writeInline(b *strings.Builder, node ast.Node) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			b.Write(n.Segment.Value(w.source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.AutoLink:
			b.Write(n.Label(w.source))
		case *ast.Image:
			b.WriteString("(image: ")
			w.writeInline(b, n)
			b.WriteString(")")
		case *ast.RawHTML, *east.TaskCheckBox:
			// Skipped
		default:
			// Emphasis, links, code spans and strikethrough keep their text
			w.writeInline(b, n)
		}
	}
}

// lines returns the raw lines of a code block joined by spaces.
func (w *speechWriter) lines(n ast.Node) string {
	var parts []string
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		parts = append(parts, string(seg.Value(w.source)))
	}
	return strings.Join(parts, " ")
}

// emit appends s as a block, terminating it with a period if it does not
// already end in punctuation.
func (w *speechWriter) emit(s string) {
	s = Normalize(s)
	if s == "" {
		return
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	if !strings.ContainsRune(".!?:;…", last) {
		s += "."
	}
	w.out = append(w.out, s)
}
