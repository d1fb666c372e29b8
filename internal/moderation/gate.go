// ABOUTME: Moderation gate that classifies outgoing text before any network call
// ABOUTME: Extracts plain text from markdown with goldmark, then matches normalized blocked terms

package moderation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ErrRejected is returned by callers that abort an action because Check disallowed it.
var ErrRejected = errors.New("content rejected by moderation")

// DefaultTerms is the built-in blocked list used when no configuration overrides it.
var DefaultTerms = []string{
	"badword",
	"idiot",
	"stupid",
	"loser",
	"shut up",
	"scam",
	"wire me money",
}

// Result is the outcome of a Check.
type Result struct {
	Allowed bool
	Term    string // the blocked term that matched, when not allowed
}

// Gate is a pure, synchronous content classifier. It is safe for concurrent use.
type Gate struct {
	terms []string
	md    goldmark.Markdown
}

// New creates a gate that blocks the given terms. Terms are normalized the same
// way as checked text, so matching ignores case, punctuation, and common
// character substitutions.
func New(terms []string) *Gate {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if n := normalize(t); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &Gate{terms: normalized, md: goldmark.New()}
}

// Default creates a gate with DefaultTerms.
func Default() *Gate {
	return New(DefaultTerms)
}

// Check classifies text. It has no side effects.
func (g *Gate) Check(s string) Result {
	plain := normalize(g.plainText(s))
	if plain == "" {
		return Result{Allowed: true}
	}
	haystack := " " + plain + " "
	squeezed := " " + squeezeSpelledOut(plain) + " "

	for _, term := range g.terms {
		needle := " " + term + " "
		if strings.Contains(haystack, needle) || strings.Contains(squeezed, needle) {
			return Result{Allowed: false, Term: term}
		}
	}
	return Result{Allowed: true}
}

// plainText renders markdown to the text a reader would see, so formatting
// cannot be used to split a blocked word ("**bad**word").
func (g *Gate) plainText(s string) string {
	src := []byte(s)
	doc := g.md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.URL(src))
		case *ast.Link:
			b.WriteByte(' ')
			b.Write(node.Destination)
			b.WriteByte(' ')
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
				b.WriteByte(' ')
			}
		case *ast.RawHTML:
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				b.Write(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
}

// normalize lowercases, folds common substitutions, and collapses everything
// that is not a letter or digit into single spaces.
func normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if sub, ok := leet[r]; ok {
			r = sub
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// squeezeSpelledOut joins runs of single-character tokens, turning
// "b a d w o r d" into "badword" while leaving ordinary words alone.
func squeezeSpelledOut(s string) string {
	tokens := strings.Fields(s)
	out := make([]string, 0, len(tokens))
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}
	for _, tok := range tokens {
		if len([]rune(tok)) == 1 {
			run.WriteString(tok)
			continue
		}
		flush()
		out = append(out, tok)
	}
	flush()
	return strings.Join(out, " ")
}
