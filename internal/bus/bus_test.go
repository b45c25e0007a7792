package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_FiltersByDocument(t *testing.T) {
	b := New()
	var gotA, gotB, gotAll []string
	b.Subscribe(TopicStreamChunk, "doc-a", func(ev Event) {
		gotA = append(gotA, ev.Text)
	})
	b.Subscribe(TopicStreamChunk, "doc-b", func(ev Event) {
		gotB = append(gotB, ev.Text)
	})
	b.Subscribe(TopicStreamChunk, "", func(ev Event) {
		gotAll = append(gotAll, ev.Text)
	})

	b.Publish(Event{Topic: TopicStreamChunk, DocumentID: "doc-a", Text: "one"})
	b.Publish(Event{Topic: TopicStreamChunk, DocumentID: "doc-b", Text: "two"})

	require.Equal(t, []string{"one"}, gotA)
	require.Equal(t, []string{"two"}, gotB)
	require.Equal(t, []string{"one", "two"}, gotAll)
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New()
	var calls int
	b.Subscribe(TopicContentApply, "doc", func(Event) { calls++ })
	b.Publish(Event{Topic: TopicStreamFinished, DocumentID: "doc"})
	require.Zero(t, calls)
}

func TestBus_DisposeIsIdempotent(t *testing.T) {
	b := New()
	var calls int
	dispose := b.Subscribe(TopicContentPreview, "doc", func(Event) { calls++ })

	b.Publish(Event{Topic: TopicContentPreview, DocumentID: "doc"})
	dispose()
	dispose()
	b.Publish(Event{Topic: TopicContentPreview, DocumentID: "doc"})

	require.Equal(t, 1, calls)
}

func TestBus_PublishOrder(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(TopicStreamChunk, "doc", func(ev Event) {
		order = append(order, ev.Text)
	})
	for _, text := range []string{"a", "b", "c"} {
		b.Publish(Event{Topic: TopicStreamChunk, DocumentID: "doc", Text: text})
	}
	require.Equal(t, []string{"a", "b", "c"}, order)
}
