package diff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mdraft/internal/richdoc"
)

func TestCompute_Identical(t *testing.T) {
	require.Nil(t, Compute("", ""))

	segs := Compute("same", "same")
	require.Len(t, segs, 1)
	require.Equal(t, OpEqual, segs[0].Op)
	require.Equal(t, "same", segs[0].Text)
}

func TestApplyReconstructsTarget(t *testing.T) {
	pairs := [][2]string{
		{"", "hello"},
		{"hello", ""},
		{"hello world", "hello brave world"},
		{"the quick brown fox", "the slow brown cat"},
		{"line one\nline two", "line one\nline 2\nline three"},
		{"héllo wörld", "héllo there wörld"},
		{"abc", "xyz"},
	}
	for _, pair := range pairs {
		segs := Compute(pair[0], pair[1])
		require.Equal(t, pair[1], Apply(segs), "%q -> %q", pair[0], pair[1])
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize("", "héllo")
	require.Equal(t, 5, sum.Added)
	require.Equal(t, 0, sum.Removed)

	sum = Summarize("héllo", "")
	require.Equal(t, 0, sum.Added)
	require.Equal(t, 5, sum.Removed)

	sum = Summarize("same", "same")
	require.Equal(t, Summary{}, sum)

	sum = Summarize("ab", "ax")
	require.Equal(t, 1, sum.Added)
	require.Equal(t, 1, sum.Removed)
}

func TestAnnotate_TagsSpans(t *testing.T) {
	doc := Annotate("hello old world", "hello new world")
	require.Equal(t, richdoc.TypeDoc, doc.Type)
	require.True(t, richdoc.HasDiffMarks(doc))

	var inserted, deleted, plain int
	var walk func(n *richdoc.Node)
	walk = func(n *richdoc.Node) {
		if n.Type == richdoc.TypeText {
			switch n.DiffKind() {
			case richdoc.DiffInserted:
				inserted++
			case richdoc.DiffDeleted:
				deleted++
			default:
				plain++
			}
		}
		for _, child := range n.Content {
			walk(child)
		}
	}
	walk(doc)
	require.Greater(t, inserted, 0)
	require.Greater(t, deleted, 0)
	require.Greater(t, plain, 0)
}

func TestAnnotate_AcceptYieldsTarget(t *testing.T) {
	a := "first line\nsecond line"
	b := "first line\nsecond paragraph\nthird line"
	accepted := richdoc.StripDiffMarks(Annotate(a, b))
	require.False(t, richdoc.HasDiffMarks(accepted))
	// Newlines become paragraph boundaries in the annotated rendering.
	require.Equal(t, "first line\n\nsecond paragraph\n\nthird line", richdoc.Serialize(accepted))
}

func TestAnnotate_Empty(t *testing.T) {
	doc := Annotate("", "")
	require.Len(t, doc.Content, 1)
	require.Equal(t, richdoc.TypeParagraph, doc.Content[0].Type)
}
