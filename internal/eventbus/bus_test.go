package eventbus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev := <-s.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := New(100 * time.Millisecond)
	defer b.Close()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers")
	}
	s := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	b.Unsubscribe(s)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsub")
	}
}

func TestPublishWithZeroSubscribers(t *testing.T) {
	b := New(time.Second)
	defer b.Close()
	for i := 0; i < 2000; i++ {
		b.Publish(TopicTransferProgress, TransferProgress{JobID: "j", Percent: i % 101})
	}
}

func TestTopicFiltering(t *testing.T) {
	b := New(time.Second)
	defer b.Close()
	progress := b.Subscribe(TopicTransferProgress)
	all := b.Subscribe()

	b.Publish(TopicResolveFinished, ResolveFinished{RequestID: "r1"})
	b.Publish(TopicTransferProgress, TransferProgress{JobID: "j1", Percent: 10})

	if ev := recv(t, progress); ev.Topic != TopicTransferProgress {
		t.Errorf("filtered subscriber got %q", ev.Topic)
	}
	if ev := recv(t, all); ev.Topic != TopicResolveFinished {
		t.Errorf("first event = %q, want %q", ev.Topic, TopicResolveFinished)
	}
	if ev := recv(t, all); ev.Topic != TopicTransferProgress {
		t.Errorf("second event = %q, want %q", ev.Topic, TopicTransferProgress)
	}
}

func TestOrderWithinTopic(t *testing.T) {
	b := New(time.Second)
	defer b.Close()
	s := b.Subscribe(TopicTransferProgress)

	for i := 0; i <= 100; i += 10 {
		b.Publish(TopicTransferProgress, TransferProgress{JobID: "j", Percent: i})
	}
	for want := 0; want <= 100; want += 10 {
		ev := recv(t, s)
		if got := ev.Data.(TransferProgress).Percent; got != want {
			t.Fatalf("percent = %d, want %d", got, want)
		}
	}
}

func TestThumbnailReadyThrottlesReload(t *testing.T) {
	b := New(500 * time.Millisecond)
	defer b.Close()
	s := b.Subscribe()
	defer b.Unsubscribe(s)

	b.PublishThumbnailReady("a.jpg")
	b.PublishThumbnailReady("b.jpg")

	time.Sleep(50 * time.Millisecond)
	reloads, ready := 0, 0
loop:
	for {
		select {
		case ev := <-s.C:
			switch ev.Topic {
			case TopicThumbnailsReloaded:
				reloads++
			case TopicThumbnailReady:
				ready++
			}
		default:
			break loop
		}
	}

	if ready != 2 {
		t.Errorf("thumbnailReady events = %d, want 2", ready)
	}
	if reloads != 1 {
		t.Errorf("thumbnailsReloaded events = %d, want 1 (throttled)", reloads)
	}
}

func TestSSEHandler(t *testing.T) {
	b := New(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber from handler")
	}

	b.Publish(TopicTransferFinished, TransferFinished{JobID: "j1", State: "Completed", DestPaths: []string{"/d/a.jpg"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: transferFinished") {
		t.Errorf("handler output missing event: %q", body)
	}
	if !strings.Contains(body, `"job_id":"j1"`) {
		t.Errorf("handler output missing payload: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := New(time.Second)
	defer b.Close()
	s := b.Subscribe()
	defer b.Unsubscribe(s)

	for i := 0; i < 600; i++ {
		b.Publish("test", fmt.Sprint(i))
	}
	// Reaching here without deadlock is the assertion.
}

func TestCloseClosesSubscriptions(t *testing.T) {
	b := New(100 * time.Millisecond)
	s := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-s.C:
		if ok {
			t.Fatal("expected subscription channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after close")
	}

	b.Publish(TopicTransferProgress, TransferProgress{})
	b.PublishThumbnailReady("x.jpg")
	late := b.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscription after close should be closed")
	}
}
