package diff

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/xxxsen/mdraft/internal/richdoc"
)

type Op int8

const (
	OpEqual Op = iota
	OpInsert
	OpDelete
)

type Segment struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

// Summary is a quantitative change description used by history
// visualizations: character counts, not semantic edit distance.
type Summary struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Compute runs a character-level Myers diff between two content snapshots
// and merges fragmented one-character edits into coherent spans.
func Compute(a, b string) []Segment {
	if a == b {
		if a == "" {
			return nil
		}
		return []Segment{{Op: OpEqual, Text: a}}
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	out := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			out = append(out, Segment{Op: OpEqual, Text: d.Text})
		case diffmatchpatch.DiffInsert:
			out = append(out, Segment{Op: OpInsert, Text: d.Text})
		case diffmatchpatch.DiffDelete:
			out = append(out, Segment{Op: OpDelete, Text: d.Text})
		}
	}
	return out
}

// Apply reconstructs the target snapshot from a diff: deletions are dropped,
// equals and insertions kept. Apply(Compute(a, b)) == b.
func Apply(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if seg.Op == OpDelete {
			continue
		}
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

func Summarize(a, b string) Summary {
	var sum Summary
	for _, seg := range Compute(a, b) {
		switch seg.Op {
		case OpInsert:
			sum.Added += utf8.RuneCountInString(seg.Text)
		case OpDelete:
			sum.Removed += utf8.RuneCountInString(seg.Text)
		}
	}
	return sum
}

// Annotate builds the render-only merged document: deleted spans are kept in
// place tagged deleted, inserted spans tagged inserted, untouched spans bare.
// The result is never persisted; richdoc.StripDiffMarks yields the accepted
// document.
func Annotate(a, b string) *richdoc.Node {
	return AnnotateSegments(Compute(a, b))
}

func AnnotateSegments(segments []Segment) *richdoc.Node {
	doc := &richdoc.Node{Type: richdoc.TypeDoc}
	para := &richdoc.Node{Type: richdoc.TypeParagraph}
	flush := func() {
		if len(para.Content) == 0 {
			return
		}
		doc.Content = append(doc.Content, para)
		para = &richdoc.Node{Type: richdoc.TypeParagraph}
	}
	appendSpan := func(text string, op Op) {
		if text == "" {
			return
		}
		var marks []richdoc.Mark
		switch op {
		case OpInsert:
			marks = []richdoc.Mark{richdoc.DiffMark(richdoc.DiffInserted)}
		case OpDelete:
			marks = []richdoc.Mark{richdoc.DiffMark(richdoc.DiffDeleted)}
		}
		para.Content = append(para.Content, richdoc.NewText(text, marks...))
	}
	for _, seg := range segments {
		lines := strings.Split(seg.Text, "\n")
		for i, line := range lines {
			if i > 0 {
				flush()
			}
			appendSpan(line, seg.Op)
		}
	}
	flush()
	if len(doc.Content) == 0 {
		doc.Content = []*richdoc.Node{richdoc.NewParagraph()}
	}
	return doc
}
