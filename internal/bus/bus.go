package bus

import "sync"

type Topic string

const (
	TopicContentPreview       Topic = "content-preview"
	TopicContentPreviewCancel Topic = "content-preview-cancel"
	TopicContentApply         Topic = "content-apply"
	TopicForkRequested        Topic = "fork-requested"
	TopicStreamChunk          Topic = "stream-chunk"
	TopicStreamFinished       Topic = "stream-finished"
)

// Event is the cross-component signal envelope. Every event targets one
// document; subscribers for other documents never see it.
type Event struct {
	Topic      Topic
	DocumentID string
	Text       string
	Payload    interface{}
}

type Handler func(Event)

type subscription struct {
	docID string
	fn    Handler
}

// Bus is an explicit in-process publish/subscribe service. Dispatch is
// synchronous in publish order, matching the cooperative single-writer model
// of an editor session. Subscribers must dispose their subscription when the
// owning component tears down; stale subscriptions are additionally guarded
// by document-id filtering.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Topic]map[int]subscription
}

func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]subscription)}
}

// Subscribe registers fn for a topic, filtered to docID. An empty docID
// receives events for every document. The returned func removes the
// subscription and is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, docID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]subscription)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = subscription{docID: docID, fn: fn}
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, sub := range b.subs[ev.Topic] {
		if sub.docID != "" && sub.docID != ev.DocumentID {
			continue
		}
		handlers = append(handlers, sub.fn)
	}
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
