package richdoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func annotatedDoc() *Node {
	return NewDoc(NewParagraph(
		NewText("keep "),
		NewText("old", DiffMark(DiffDeleted)),
		NewText("new", DiffMark(DiffInserted)),
		NewText(" tail"),
	))
}

func TestStripDiffMarks_AcceptsChanges(t *testing.T) {
	doc := annotatedDoc()
	require.True(t, HasDiffMarks(doc))

	out := StripDiffMarks(doc)
	require.False(t, HasDiffMarks(out))
	require.Equal(t, "keep new tail", Serialize(out))

	// The source document is untouched.
	require.True(t, HasDiffMarks(doc))
}

func TestStripDiffMarks_KeepsOtherMarks(t *testing.T) {
	doc := NewDoc(NewParagraph(
		NewText("both", Mark{Type: MarkBold}, DiffMark(DiffInserted)),
	))
	out := StripDiffMarks(doc)
	span := out.Content[0].Content[0]
	require.Len(t, span.Marks, 1)
	require.Equal(t, MarkBold, span.Marks[0].Type)
}

func TestStripDiffMarks_EmptiedDocGetsParagraph(t *testing.T) {
	doc := &Node{Type: TypeDoc, Content: []*Node{
		{Type: TypeText, Text: "gone", Marks: []Mark{DiffMark(DiffDeleted)}},
	}}
	out := StripDiffMarks(doc)
	require.Len(t, out.Content, 1)
	require.Equal(t, TypeParagraph, out.Content[0].Type)
}

func TestClone_Independent(t *testing.T) {
	doc := NewDoc(NewHeading(2, NewText("title")))
	clone := doc.Clone()
	clone.Content[0].Content[0].Text = "changed"
	clone.Content[0].Attrs["level"] = 4
	require.Equal(t, "title", doc.Content[0].Content[0].Text)
	require.Equal(t, 2, doc.Content[0].HeadingLevel())
}

func TestHeadingLevel_JSONNumbers(t *testing.T) {
	n := &Node{Type: TypeHeading, Attrs: map[string]interface{}{"level": float64(3)}}
	require.Equal(t, 3, n.HeadingLevel())
}
