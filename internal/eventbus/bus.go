// Package eventbus is the in-process publish/subscribe channel that decouples
// the grid controller, the transfer engine and the UI layer.
package eventbus

import (
	"sync/atomic"
	"time"
)

// Topics.
const (
	TopicThumbnailsReloaded = "thumbnailsReloaded"
	TopicThumbnailReady     = "thumbnailReady"
	TopicTransferProgress   = "transferProgress"
	TopicTransferFinished   = "transferFinished"
	TopicResolveFinished    = "resolveFinished"
	TopicCatalogChanged     = "catalogChanged"
)

// Event is a message delivered to subscribers.
type Event struct {
	Topic string `json:"type"`
	Data  any    `json:"data"`
}

// TransferProgress is the payload of TopicTransferProgress.
type TransferProgress struct {
	JobID   string `json:"job_id"`
	Percent int    `json:"percent"`
}

// TransferFinished is the payload of TopicTransferFinished.
type TransferFinished struct {
	JobID     string   `json:"job_id"`
	State     string   `json:"state"`
	DestPaths []string `json:"dest_paths"`
	Skipped   []string `json:"skipped,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ResolveFinished is the payload of TopicResolveFinished. LayeredPath is empty
// when nothing was found.
type ResolveFinished struct {
	RequestID   string `json:"request_id"`
	SourcePath  string `json:"source_path"`
	LayeredPath string `json:"layered_path,omitempty"`
	Found       bool   `json:"found"`
}

// Subscription receives events for the topics it was created with.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	topics map[string]struct{}
}

func (s *Subscription) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type readyReq struct {
	path string
}

// Bus fans events out to subscribers.
//
// A single internal loop owns the subscriber set and the reload throttle;
// public methods talk to it over channels. Fan-out never blocks: a subscriber
// whose buffer is full misses the event, so publishers see no backpressure.
// Events on one topic reach each subscriber in publish order.
type Bus struct {
	reloadMin time.Duration
	bufSize   int

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	publishCh     chan Event
	readyCh       chan readyReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New creates a bus. thumbnailsReloaded is emitted at most once per
// reloadThrottle when driven by PublishThumbnailReady.
func New(reloadThrottle time.Duration) *Bus {
	if reloadThrottle <= 0 {
		reloadThrottle = 500 * time.Millisecond
	}

	b := &Bus{
		reloadMin:     reloadThrottle,
		bufSize:       256,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		publishCh:     make(chan Event, 1024),
		readyCh:       make(chan readyReq, 1024),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.stopped)

	subs := make(map[*Subscription]struct{})
	var lastReload time.Time

	broadcast := func(event Event) {
		for s := range subs {
			if !s.wants(event.Topic) {
				continue
			}
			select {
			case s.ch <- event:
			default:
				// Subscriber buffer full; skip to avoid blocking the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s] = struct{}{}

		case s := <-b.unsubscribeCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.readyCh:
			broadcast(Event{Topic: TopicThumbnailReady, Data: map[string]string{"path": req.path}})

			now := time.Now()
			if now.Sub(lastReload) >= b.reloadMin {
				lastReload = now
				broadcast(Event{Topic: TopicThumbnailsReloaded, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscription channel.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber for topics. No topics means all topics.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	ch := make(chan Event, b.bufSize)
	s := &Subscription{C: ch, ch: ch, topics: make(map[string]struct{}, len(topics))}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	if b.closed.Load() {
		close(ch)
		return s
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

// Unsubscribe removes s and closes its channel.
func (b *Bus) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- s:
	case <-b.stopped:
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends data on topic to every interested subscriber.
func (b *Bus) Publish(topic string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- Event{Topic: topic, Data: data}:
	case <-b.stopped:
	}
}

// PublishThumbnailReady announces a newly decoded thumbnail and a throttled
// thumbnailsReloaded.
func (b *Bus) PublishThumbnailReady(path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.readyCh <- readyReq{path: path}:
	case <-b.stopped:
	}
}
