package richdoc

// Block and inline node types of the structured document tree. The shape
// mirrors what editor clients ship as JSON: type + attrs + content/text + marks.
const (
	TypeDoc         = "doc"
	TypeParagraph   = "paragraph"
	TypeHeading     = "heading"
	TypeBulletList  = "bulletList"
	TypeOrderedList = "orderedList"
	TypeListItem    = "listItem"
	TypeBlockquote  = "blockquote"
	TypeCodeBlock   = "codeBlock"
	TypeText        = "text"
	TypeHardBreak   = "hardBreak"
)

const (
	MarkBold   = "bold"
	MarkItalic = "italic"
	MarkCode   = "code"
	// MarkDiff is a view-layer annotation only; it is stripped before any
	// content reaches storage.
	MarkDiff = "diff"
)

const (
	DiffInserted = "inserted"
	DiffDeleted  = "deleted"
)

type Mark struct {
	Type  string                 `json:"type"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

type Node struct {
	Type    string                 `json:"type"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Content []*Node                `json:"content,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Marks   []Mark                 `json:"marks,omitempty"`
}

func NewDoc(blocks ...*Node) *Node {
	if len(blocks) == 0 {
		blocks = []*Node{NewParagraph()}
	}
	return &Node{Type: TypeDoc, Content: blocks}
}

func NewParagraph(inline ...*Node) *Node {
	return &Node{Type: TypeParagraph, Content: inline}
}

func NewHeading(level int, inline ...*Node) *Node {
	return &Node{Type: TypeHeading, Attrs: map[string]interface{}{"level": level}, Content: inline}
}

func NewText(text string, marks ...Mark) *Node {
	return &Node{Type: TypeText, Text: text, Marks: marks}
}

func DiffMark(kind string) Mark {
	return Mark{Type: MarkDiff, Attrs: map[string]interface{}{"kind": kind}}
}

// DiffKind returns the diff annotation on a text node, or "" for untouched
// spans.
func (n *Node) DiffKind() string {
	for _, m := range n.Marks {
		if m.Type != MarkDiff {
			continue
		}
		if kind, ok := m.Attrs["kind"].(string); ok {
			return kind
		}
	}
	return ""
}

func (n *Node) HeadingLevel() int {
	if n.Attrs == nil {
		return 0
	}
	switch v := n.Attrs["level"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (n *Node) CodeLanguage() string {
	if n.Attrs == nil {
		return ""
	}
	lang, _ := n.Attrs["language"].(string)
	return lang
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Text: n.Text}
	if n.Attrs != nil {
		out.Attrs = make(map[string]interface{}, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	if n.Marks != nil {
		out.Marks = make([]Mark, 0, len(n.Marks))
		for _, m := range n.Marks {
			mark := Mark{Type: m.Type}
			if m.Attrs != nil {
				mark.Attrs = make(map[string]interface{}, len(m.Attrs))
				for k, v := range m.Attrs {
					mark.Attrs[k] = v
				}
			}
			out.Marks = append(out.Marks, mark)
		}
	}
	for _, child := range n.Content {
		out.Content = append(out.Content, child.Clone())
	}
	return out
}

// StripDiffMarks returns a copy with every deleted-tagged span removed and
// every diff mark dropped from the remaining spans. This is the "accept"
// operation on a diff-annotated document.
func StripDiffMarks(doc *Node) *Node {
	if doc == nil {
		return nil
	}
	out := &Node{Type: doc.Type, Text: doc.Text}
	if doc.Attrs != nil {
		out.Attrs = make(map[string]interface{}, len(doc.Attrs))
		for k, v := range doc.Attrs {
			out.Attrs[k] = v
		}
	}
	for _, m := range doc.Marks {
		if m.Type == MarkDiff {
			continue
		}
		out.Marks = append(out.Marks, m)
	}
	for _, child := range doc.Content {
		if child.Type == TypeText && child.DiffKind() == DiffDeleted {
			continue
		}
		stripped := StripDiffMarks(child)
		if stripped != nil {
			out.Content = append(out.Content, stripped)
		}
	}
	// A block emptied entirely by deletions still needs to be a valid node.
	if out.Type == TypeDoc && len(out.Content) == 0 {
		out.Content = []*Node{NewParagraph()}
	}
	return out
}

// HasDiffMarks reports whether any span in the tree carries a diff
// annotation.
func HasDiffMarks(doc *Node) bool {
	if doc == nil {
		return false
	}
	if doc.DiffKind() != "" {
		return true
	}
	for _, child := range doc.Content {
		if HasDiffMarks(child) {
			return true
		}
	}
	return false
}
