package richdoc

import (
	"strings"
	"unicode"
)

// Invisible characters that editors and chat clients routinely smuggle into
// pasted text.
var zeroWidth = map[rune]struct{}{
	'\u200b': {}, // zero width space
	'\u200c': {}, // zero width non-joiner
	'\u200d': {}, // zero width joiner
	'\u2060': {}, // word joiner
	'\ufeff': {}, // BOM
}

const (
	lineSeparator      = '\u2028'
	paragraphSeparator = '\u2029'
)

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Normalize cleans a flat content string: invisible runes are dropped,
// unicode line/paragraph separators become spaces, and a Markdown hard break
// ("  \n" or "\\\n") wedged between two word characters becomes a plain
// space. A hard break in the middle of a sentence is a typo, not layout.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(input string) string {
	if input == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(input))
	for _, r := range input {
		if _, ok := zeroWidth[r]; ok {
			continue
		}
		if r == lineSeparator || r == paragraphSeparator {
			sb.WriteRune(' ')
			continue
		}
		sb.WriteRune(r)
	}
	return collapseHardBreaks(sb.String())
}

func collapseHardBreaks(s string) string {
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	i := 0
	for i < len(runes) {
		r := runes[i]
		if (r == ' ' || r == '\\') && len(out) > 0 {
			if n, ok := hardBreakAt(runes, i); ok {
				prev := out[len(out)-1]
				next := runes[i+n]
				if isWordRune(prev) && isWordRune(next) {
					out = append(out, ' ')
					i += n
					continue
				}
			}
		}
		out = append(out, r)
		i++
	}
	return string(out)
}

// hardBreakAt reports whether runes[i:] starts a Markdown hard break
// followed by at least one more rune, returning the break's length.
func hardBreakAt(runes []rune, i int) (int, bool) {
	if runes[i] == '\\' {
		if i+2 < len(runes) && runes[i+1] == '\n' {
			return 2, true
		}
		return 0, false
	}
	// Two or more trailing spaces before the newline.
	j := i
	for j < len(runes) && runes[j] == ' ' {
		j++
	}
	if j-i < 2 || j >= len(runes) || runes[j] != '\n' {
		return 0, false
	}
	if j+1 >= len(runes) {
		return 0, false
	}
	return j - i + 1, true
}

// NormalizePaste prepares plain-text paste input for insertion: line endings
// unified, invisible runes dropped, intra-line whitespace runs collapsed,
// and blank-line-delimited chunks kept as separate paragraphs so the paste
// maps onto the editor's block model.
func NormalizePaste(input string) string {
	if input == "" {
		return ""
	}
	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	var clean strings.Builder
	clean.Grow(len(s))
	for _, r := range s {
		if _, ok := zeroWidth[r]; ok {
			continue
		}
		if r == lineSeparator || r == paragraphSeparator {
			clean.WriteRune('\n')
			continue
		}
		clean.WriteRune(r)
	}

	lines := strings.Split(clean.String(), "\n")
	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
		current = nil
	}
	for _, line := range lines {
		collapsed := strings.Join(strings.Fields(line), " ")
		if collapsed == "" {
			flush()
			continue
		}
		current = append(current, collapsed)
	}
	flush()
	return strings.Join(paragraphs, "\n\n")
}

// NormalizeDoc applies Normalize to every text span of a structured document
// and dissolves hard breaks that sit between two word characters.
func NormalizeDoc(doc *Node) *Node {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	normalizeNode(out)
	return out
}

func normalizeNode(n *Node) {
	if n.Type == TypeText {
		n.Text = Normalize(n.Text)
		return
	}
	for _, child := range n.Content {
		normalizeNode(child)
	}
	if n.Type != TypeParagraph && n.Type != TypeHeading {
		return
	}
	rebuilt := make([]*Node, 0, len(n.Content))
	for i, child := range n.Content {
		if child.Type == TypeHardBreak && i > 0 && i < len(n.Content)-1 {
			prev := n.Content[i-1]
			next := n.Content[i+1]
			if prev.Type == TypeText && next.Type == TypeText {
				pr, pok := lastRune(prev.Text)
				nr, nok := firstRune(next.Text)
				if pok && nok && isWordRune(pr) && isWordRune(nr) {
					rebuilt = append(rebuilt, NewText(" "))
					continue
				}
			}
		}
		rebuilt = append(rebuilt, child)
	}
	n.Content = rebuilt
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

func lastRune(s string) (rune, bool) {
	var last rune
	found := false
	for _, r := range s {
		last = r
		found = true
	}
	return last, found
}
