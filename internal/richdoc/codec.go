package richdoc

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Serialize renders the structured tree as deterministic Markdown. Diff
// marks are ignored: annotated documents must be stripped before they are
// serialized for storage.
func Serialize(doc *Node) string {
	if doc == nil {
		return ""
	}
	blocks := make([]string, 0, len(doc.Content))
	for _, block := range doc.Content {
		rendered := serializeBlock(block)
		if rendered == "" && block.Type != TypeParagraph {
			continue
		}
		blocks = append(blocks, rendered)
	}
	// Trailing empty paragraphs collapse away so empty docs round-trip to "".
	for len(blocks) > 0 && blocks[len(blocks)-1] == "" {
		blocks = blocks[:len(blocks)-1]
	}
	return strings.Join(blocks, "\n\n")
}

func serializeBlock(n *Node) string {
	switch n.Type {
	case TypeParagraph:
		return serializeInline(n.Content)
	case TypeHeading:
		level := n.HeadingLevel()
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		return strings.Repeat("#", level) + " " + serializeInline(n.Content)
	case TypeBulletList:
		items := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			items = append(items, "- "+serializeListItem(item))
		}
		return strings.Join(items, "\n")
	case TypeOrderedList:
		items := make([]string, 0, len(n.Content))
		for i, item := range n.Content {
			items = append(items, strconv.Itoa(i+1)+". "+serializeListItem(item))
		}
		return strings.Join(items, "\n")
	case TypeBlockquote:
		inner := make([]string, 0, len(n.Content))
		for _, block := range n.Content {
			inner = append(inner, serializeBlock(block))
		}
		quoted := strings.Join(inner, "\n\n")
		lines := strings.Split(quoted, "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n")
	case TypeCodeBlock:
		code := ""
		for _, child := range n.Content {
			if child.Type == TypeText {
				code += child.Text
			}
		}
		code = strings.TrimRight(code, "\n")
		return "```" + n.CodeLanguage() + "\n" + code + "\n```"
	default:
		return serializeInline(n.Content)
	}
}

func serializeListItem(item *Node) string {
	parts := make([]string, 0, len(item.Content))
	for _, block := range item.Content {
		parts = append(parts, serializeBlock(block))
	}
	return strings.Join(parts, " ")
}

func serializeInline(nodes []*Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case TypeHardBreak:
			sb.WriteString("\\\n")
		case TypeText:
			sb.WriteString(wrapMarks(n.Text, n.Marks))
		default:
			sb.WriteString(serializeInline(n.Content))
		}
	}
	return sb.String()
}

func wrapMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}
	out := text
	for _, m := range marks {
		switch m.Type {
		case MarkCode:
			out = "`" + out + "`"
		case MarkBold:
			out = "**" + out + "**"
		case MarkItalic:
			out = "*" + out + "*"
		}
	}
	return out
}

// Deserialize parses Markdown into the structured tree. Empty input yields a
// document with a single empty paragraph, never nil. Anything goldmark does
// not recognize degrades to plain paragraph text instead of failing.
func Deserialize(input string) *Node {
	if strings.TrimSpace(input) == "" {
		return NewDoc()
	}
	source := []byte(input)
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(source))

	doc := &Node{Type: TypeDoc}
	for child := root.FirstChild(); child != nil; child = child.NextSibling() {
		if block := convertBlock(child, source); block != nil {
			doc.Content = append(doc.Content, block)
		}
	}
	if len(doc.Content) == 0 {
		doc.Content = []*Node{NewParagraph()}
	}
	return doc
}

func convertBlock(n ast.Node, source []byte) *Node {
	switch block := n.(type) {
	case *ast.Heading:
		level := block.Level
		return &Node{
			Type:    TypeHeading,
			Attrs:   map[string]interface{}{"level": level},
			Content: convertInline(block, source),
		}
	case *ast.Paragraph, *ast.TextBlock:
		return &Node{Type: TypeParagraph, Content: convertInline(n, source)}
	case *ast.List:
		listType := TypeBulletList
		if block.IsOrdered() {
			listType = TypeOrderedList
		}
		out := &Node{Type: listType}
		for item := block.FirstChild(); item != nil; item = item.NextSibling() {
			converted := &Node{Type: TypeListItem}
			for inner := item.FirstChild(); inner != nil; inner = inner.NextSibling() {
				if b := convertBlock(inner, source); b != nil {
					converted.Content = append(converted.Content, b)
				}
			}
			if len(converted.Content) == 0 {
				converted.Content = []*Node{NewParagraph()}
			}
			out.Content = append(out.Content, converted)
		}
		return out
	case *ast.Blockquote:
		out := &Node{Type: TypeBlockquote}
		for inner := block.FirstChild(); inner != nil; inner = inner.NextSibling() {
			if b := convertBlock(inner, source); b != nil {
				out.Content = append(out.Content, b)
			}
		}
		return out
	case *ast.FencedCodeBlock:
		lang := string(block.Language(source))
		return codeBlockNode(block.Lines(), lang, source)
	case *ast.CodeBlock:
		return codeBlockNode(block.Lines(), "", source)
	case *ast.ThematicBreak:
		return nil
	default:
		inline := convertInline(n, source)
		if len(inline) == 0 {
			return nil
		}
		return &Node{Type: TypeParagraph, Content: inline}
	}
}

func codeBlockNode(lines *text.Segments, lang string, source []byte) *Node {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	attrs := map[string]interface{}{}
	if lang != "" {
		attrs["language"] = lang
	}
	node := &Node{Type: TypeCodeBlock}
	if len(attrs) > 0 {
		node.Attrs = attrs
	}
	if sb.Len() > 0 {
		node.Content = []*Node{NewText(sb.String())}
	}
	return node
}

func convertInline(parent ast.Node, source []byte) []*Node {
	var out []*Node
	appendText := func(value string, marks []Mark) {
		if value == "" {
			return
		}
		// Merge with a preceding text node carrying identical marks, so
		// adjacent goldmark segments collapse into one span.
		if len(out) > 0 {
			last := out[len(out)-1]
			if last.Type == TypeText && sameMarks(last.Marks, marks) {
				last.Text += value
				return
			}
		}
		out = append(out, NewText(value, marks...))
	}

	var walk func(n ast.Node, marks []Mark)
	walk = func(n ast.Node, marks []Mark) {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			switch inline := child.(type) {
			case *ast.Text:
				appendText(string(inline.Segment.Value(source)), marks)
				if inline.HardLineBreak() {
					out = append(out, &Node{Type: TypeHardBreak})
				} else if inline.SoftLineBreak() {
					appendText(" ", marks)
				}
			case *ast.Emphasis:
				mark := Mark{Type: MarkItalic}
				if inline.Level >= 2 {
					mark = Mark{Type: MarkBold}
				}
				walk(inline, append(append([]Mark{}, marks...), mark))
			case *ast.CodeSpan:
				var sb strings.Builder
				for seg := inline.FirstChild(); seg != nil; seg = seg.NextSibling() {
					if t, ok := seg.(*ast.Text); ok {
						sb.Write(t.Segment.Value(source))
					}
				}
				appendText(sb.String(), append(append([]Mark{}, marks...), Mark{Type: MarkCode}))
			case *ast.Link:
				walk(inline, marks)
			case *ast.AutoLink:
				appendText(string(inline.URL(source)), marks)
			case *ast.RawHTML, *ast.HTMLBlock:
				// Raw html is dropped from the structured view.
			default:
				if child.HasChildren() {
					walk(child, marks)
				}
			}
		}
	}
	walk(parent, nil)
	return out
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}
