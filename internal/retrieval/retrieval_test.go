package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mailassist/internal/embedding"
	"mailassist/internal/model"
	"mailassist/internal/repository"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, emb embedding.Embedder, msgs ...*model.Message) *repository.MemoryRepository {
	t.Helper()
	repo, err := repository.NewMemoryRepository()
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	ctx := context.Background()
	for _, m := range msgs {
		vec, err := emb.Embed(ctx, m.Text())
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		m.Embedding = vec
		if _, err := repo.Insert(ctx, m); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return repo
}

func corpus() []*model.Message {
	return []*model.Message{
		{ID: 1, Sender: "a@x.com", Subject: "Retainer payment", Body: "retainer payment received invoice", ReceivedAt: base, Category: model.CategoryRespond},
		{ID: 2, Sender: "a@x.com", Subject: "Retainer invoice", Body: "invoice for the retainer payment", ReceivedAt: base.Add(time.Hour), Category: model.CategoryDone},
		{ID: 3, Sender: "b@x.com", Subject: "Lunch", Body: "lunch on friday", ReceivedAt: base.Add(2 * time.Hour), Category: model.CategoryNotify},
		{ID: 4, Sender: "b@x.com", Subject: "Payment reminder", Body: "retainer payment overdue", ReceivedAt: base.Add(3 * time.Hour), Category: model.CategoryActive},
		{ID: 5, Sender: "c@x.com", Subject: "Hearing", Body: "hearing date moved", ReceivedAt: base.Add(4 * time.Hour), Category: model.CategoryDone},
	}
}

func TestFindRelatedExcludesSelfAndSorts(t *testing.T) {
	emb := embedding.NewHashEmbedder(256)
	msgs := corpus()
	repo := seed(t, emb, msgs...)
	e := NewEngine(repo, emb, 3, zaptest.NewLogger(t))

	got, err := e.FindRelated(context.Background(), msgs[0], 0, Filters{})
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want default k 3", len(got))
	}
	for i, r := range got {
		if r.Message.ID == msgs[0].ID {
			t.Fatal("result contains the input message")
		}
		if i > 0 && r.Score > got[i-1].Score {
			t.Fatalf("results not sorted: %v > %v", r.Score, got[i-1].Score)
		}
	}
	top := map[int64]bool{got[0].Message.ID: true, got[1].Message.ID: true}
	if !top[2] || !top[4] {
		t.Fatalf("top two = %d,%d, want the retainer/payment messages 2 and 4", got[0].Message.ID, got[1].Message.ID)
	}
}

func TestFindRelatedFilters(t *testing.T) {
	emb := embedding.NewHashEmbedder(256)
	msgs := corpus()
	repo := seed(t, emb, msgs...)
	e := NewEngine(repo, emb, 5, zaptest.NewLogger(t))
	ctx := context.Background()

	got, err := e.FindRelated(ctx, msgs[0], 10, Filters{Sender: "B@X.COM"})
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sender filter: got %d results", len(got))
	}
	for _, r := range got {
		if r.Message.Sender != "b@x.com" {
			t.Fatalf("unexpected sender %s", r.Message.Sender)
		}
	}

	got, err = e.FindRelated(ctx, msgs[0], 10, Filters{Since: base.Add(90 * time.Minute), Until: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("date filter: got %d results", len(got))
	}
}

func TestFindRelatedFewerThanK(t *testing.T) {
	emb := embedding.NewHashEmbedder(64)
	msgs := corpus()[:2]
	repo := seed(t, emb, msgs...)
	e := NewEngine(repo, emb, 5, zaptest.NewLogger(t))

	got, err := e.FindRelated(context.Background(), msgs[0], 5, Filters{})
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestFindRelatedRequiresEmbedding(t *testing.T) {
	repo, _ := repository.NewMemoryRepository()
	e := NewEngine(repo, embedding.NewHashEmbedder(8), 5, zaptest.NewLogger(t))

	_, err := e.FindRelated(context.Background(), &model.Message{ID: 1}, 5, Filters{})
	if !errors.Is(err, ErrNoEmbedding) {
		t.Fatalf("expected ErrNoEmbedding, got %v", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	repo, _ := repository.NewMemoryRepository()
	e := NewEngine(repo, embedding.NewHashEmbedder(8), 5, zaptest.NewLogger(t))

	got, err := e.Search(context.Background(), "anything", 5, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", got)
	}
}

func TestSearchIncludesAllMatches(t *testing.T) {
	emb := embedding.NewHashEmbedder(256)
	repo := seed(t, emb, corpus()...)
	e := NewEngine(repo, emb, 5, zaptest.NewLogger(t))

	got, err := e.Search(context.Background(), "hearing date", 1, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Message.ID != 5 {
		t.Fatalf("unexpected results %+v", got)
	}
}

func TestSortScoredTies(t *testing.T) {
	s := []model.ScoredMessage{
		{Message: &model.Message{ID: 1, ReceivedAt: base}, Score: 0.5},
		{Message: &model.Message{ID: 2, ReceivedAt: base.Add(time.Hour)}, Score: 0.5},
		{Message: &model.Message{ID: 3, ReceivedAt: base}, Score: 0.9},
	}
	sortScored(s)
	if s[0].Message.ID != 3 || s[1].Message.ID != 2 || s[2].Message.ID != 1 {
		t.Fatalf("order = %d,%d,%d", s[0].Message.ID, s[1].Message.ID, s[2].Message.ID)
	}
}
