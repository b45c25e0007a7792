package richdoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_DropsInvisibleRunes(t *testing.T) {
	require.Equal(t, "ab", Normalize("a\u200bb"))
	require.Equal(t, "ab", Normalize("\ufeffab"))
	require.Equal(t, "a b", Normalize("a\u2028b"))
	require.Equal(t, "a b", Normalize("a\u2029b"))
}

func TestNormalize_CollapsesMidWordHardBreaks(t *testing.T) {
	require.Equal(t, "foo bar", Normalize("foo  \nbar"))
	require.Equal(t, "foo bar", Normalize("foo\\\nbar"))
	// A break after punctuation is layout, not a typo.
	require.Equal(t, "foo.  \nbar", Normalize("foo.  \nbar"))
	// A single trailing space is not a hard break.
	require.Equal(t, "foo \nbar", Normalize("foo \nbar"))
}

func TestNormalize_Idempotent(t *testing.T) {
	cases := []string{
		"foo  \nbar",
		"a\u200bb c",
		"plain text",
		"multi\n\nparagraph  \ncontent",
		"",
	}
	for _, input := range cases {
		once := Normalize(input)
		require.Equal(t, once, Normalize(once), "idempotence of %q", input)
	}
}

func TestNormalizePaste(t *testing.T) {
	require.Equal(t, "a\nb\n\nc", NormalizePaste("a\r\nb\r\n\r\nc"))
	require.Equal(t, "a b", NormalizePaste("a\t\t b"))
	require.Equal(t, "ab", NormalizePaste("a\u200db"))
	require.Equal(t, "", NormalizePaste("  \n\n  "))
	require.Equal(t, "one\n\ntwo", NormalizePaste("one\n\n\n\ntwo"))
}

func TestNormalizeDoc_DissolvesMidWordBreaks(t *testing.T) {
	doc := NewDoc(NewParagraph(
		NewText("wor"),
		&Node{Type: TypeHardBreak},
		NewText("ld"),
	))
	out := NormalizeDoc(doc)
	require.Len(t, out.Content, 1)
	require.Equal(t, "wor ld", Serialize(out))

	// A break next to punctuation survives.
	doc = NewDoc(NewParagraph(
		NewText("end."),
		&Node{Type: TypeHardBreak},
		NewText("next"),
	))
	out = NormalizeDoc(doc)
	require.Equal(t, "end.\\\nnext", Serialize(out))
}

func TestNormalizeDoc_DoesNotMutateInput(t *testing.T) {
	doc := NewDoc(NewParagraph(NewText("a\u200bb")))
	_ = NormalizeDoc(doc)
	require.Equal(t, "a\u200bb", doc.Content[0].Content[0].Text)
}
