package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"mailassist/pkg/trace"
)

type fakeStore struct {
	pending []*Event
	sent    []int64
	failed  []int64
	byID    map[int64]*Event
	reset   []int64
}

func (s *fakeStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeStore) GetEventByID(_ context.Context, id int64) (*Event, error) {
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (s *fakeStore) GetFailedEvents(_ context.Context, _ int) ([]*Event, error) {
	var out []*Event
	for _, e := range s.byID {
		if e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) ResetEvent(_ context.Context, id int64) error {
	s.reset = append(s.reset, id)
	return nil
}

type published struct {
	routingKey string
	traceID    string
	body       string
}

type fakePublisher struct {
	failKeys map[string]bool
	got      []published
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.failKeys[routingKey] {
		return errors.New("channel closed")
	}
	body, _ := json.Marshal(payload)
	p.got = append(p.got, published{routingKey: routingKey, traceID: trace.FromContext(ctx), body: string(body)})
	return nil
}

func TestFlushPublishesAndMarks(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		{ID: 1, RoutingKey: "email.analyzed", Payload: json.RawMessage(`{"email_id":10,"trace_id":"abc"}`)},
		{ID: 2, RoutingKey: "broken", Payload: json.RawMessage(`{"email_id":11}`)},
		{ID: 3, RoutingKey: "email.analyzed", Payload: json.RawMessage(`not-json`)},
	}}
	pub := &fakePublisher{failKeys: map[string]bool{"broken": true}}

	d := NewDispatcher(store, pub, zap.NewNop())
	if sent := d.Flush(context.Background()); sent != 1 {
		t.Fatalf("Flush sent %d, want 1", sent)
	}

	if len(store.sent) != 1 || store.sent[0] != 1 {
		t.Fatalf("sent = %v, want [1]", store.sent)
	}
	if len(store.failed) != 2 {
		t.Fatalf("failed = %v, want two events", store.failed)
	}
	if len(pub.got) != 1 || pub.got[0].traceID != "abc" {
		t.Fatalf("published = %+v, want one message carrying trace id abc", pub.got)
	}
	if pub.got[0].body != `{"email_id":10,"trace_id":"abc"}` {
		t.Fatalf("payload was re-encoded: %s", pub.got[0].body)
	}
}

func TestFlushRespectsBatchSize(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 5; i++ {
		store.pending = append(store.pending, &Event{ID: i, RoutingKey: "email.analyzed", Payload: json.RawMessage(`{}`)})
	}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop()).WithBatchSize(2)

	if sent := d.Flush(context.Background()); sent != 2 {
		t.Fatalf("Flush sent %d, want 2", sent)
	}
}

func TestReplayResetsOnlyNonPending(t *testing.T) {
	store := &fakeStore{byID: map[int64]*Event{
		1: {ID: 1, Status: StatusFailed},
		2: {ID: 2, Status: StatusPending},
		3: {ID: 3, Status: StatusSent},
	}}
	svc := NewReplayService(store, zap.NewNop())

	if err := svc.ReplayEvent(context.Background(), 2); err != nil {
		t.Fatalf("ReplayEvent(pending): %v", err)
	}
	if err := svc.ReplayEvent(context.Background(), 3); err != nil {
		t.Fatalf("ReplayEvent(sent): %v", err)
	}
	if err := svc.ReplayEvent(context.Background(), 99); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if len(store.reset) != 1 || store.reset[0] != 3 {
		t.Fatalf("reset = %v, want [3]", store.reset)
	}

	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	if err != nil || n != 1 {
		t.Fatalf("ReplayFailedEvents = (%d, %v), want (1, nil)", n, err)
	}
}
