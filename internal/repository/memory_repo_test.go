package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mailassist/internal/model"
	"mailassist/pkg/util"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo, err := NewMemoryRepository()
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	return repo
}

func insert(t *testing.T, repo *MemoryRepository, m *model.Message) int64 {
	t.Helper()
	id, err := repo.Insert(context.Background(), m)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return id
}

func TestGetMessagesPendingOrderAndCursor(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	insert(t, repo, &model.Message{ID: 1, Category: model.CategoryRespond, ReceivedAt: base.Add(2 * time.Hour)})
	insert(t, repo, &model.Message{ID: 2, Category: model.CategoryRespond, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 3, Category: model.CategoryDone, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 4, Category: model.CategoryRespond, ReceivedAt: base, Analyzed: true})
	insert(t, repo, &model.Message{ID: 5, Category: model.CategoryRespond, ReceivedAt: base, Parked: true})
	insert(t, repo, &model.Message{ID: 6, Category: model.CategoryRespond, ReceivedAt: base})

	page, err := repo.GetMessages(ctx, model.PendingFilter(2))
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if got := ids(page); !equalIDs(got, []int64{2, 6}) {
		t.Fatalf("first page = %v, want [2 6]", got)
	}

	next := model.PendingFilter(2)
	next.AfterReceivedAt, next.AfterID = page[1].ReceivedAt, page[1].ID
	page, err = repo.GetMessages(ctx, next)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if got := ids(page); !equalIDs(got, []int64{1}) {
		t.Fatalf("second page = %v, want [1]", got)
	}
}

func TestVectorSearchExcludesSelfAndOrders(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	insert(t, repo, &model.Message{ID: 1, Embedding: []float32{1, 0, 0}, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 2, Embedding: []float32{0.9, 0.1, 0}, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 3, Embedding: []float32{0, 1, 0}, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 4, Embedding: []float32{0.5, 0.5, 0}, ReceivedAt: base})

	results, err := repo.VectorSearch(ctx, []float32{1, 0, 0}, 2, model.MessageFilter{ExcludeID: 1})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Message.ID != 2 || results[1].Message.ID != 4 {
		t.Fatalf("order = [%d %d], want [2 4]", results[0].Message.ID, results[1].Message.ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("scores not descending: %v, %v", results[0].Score, results[1].Score)
	}
}

func TestVectorSearchTiesPreferRecent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	insert(t, repo, &model.Message{ID: 1, Embedding: []float32{0, 1}, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 2, Embedding: []float32{0, 1}, ReceivedAt: base.Add(time.Hour)})

	results, err := repo.VectorSearch(ctx, []float32{0, 1}, 5, model.MessageFilter{})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 || results[0].Message.ID != 2 {
		t.Fatalf("expected the more recent email first, got %+v", results)
	}
}

func TestVectorSearchFilters(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	insert(t, repo, &model.Message{ID: 1, Sender: "Alice@example.com", Embedding: []float32{1, 0}, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 2, Sender: "bob@example.com", Embedding: []float32{1, 0}, ReceivedAt: base})
	insert(t, repo, &model.Message{ID: 3, Sender: "alice@example.com", Embedding: []float32{1, 0}, ReceivedAt: base.Add(48 * time.Hour)})

	results, err := repo.VectorSearch(ctx, []float32{1, 0}, 5, model.MessageFilter{
		Sender: "alice@example.com",
		Until:  base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 1 || results[0].Message.ID != 1 {
		t.Fatalf("expected only email 1, got %+v", results)
	}
}

func TestVectorSearchEmptyIndex(t *testing.T) {
	repo := newRepo(t)
	insert(t, repo, &model.Message{ID: 1})

	results, err := repo.VectorSearch(context.Background(), []float32{1, 0}, 5, model.MessageFilter{})
	if err != nil {
		t.Fatalf("VectorSearch on empty index: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSaveAnalysisRequiresEmbedding(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id := insert(t, repo, &model.Message{Category: model.CategoryRespond})

	err := repo.SaveAnalysis(ctx, id, &model.AnalysisResult{Summary: "x"})
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without embedding, got %v", err)
	}

	if err := repo.SaveEmbedding(ctx, id, []float32{0.2, 0.8}); err != nil {
		t.Fatalf("SaveEmbedding: %v", err)
	}
	if err := repo.SaveAnalysis(ctx, id, &model.AnalysisResult{Summary: "x"}); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}

	m, err := repo.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !m.Analyzed || m.Analysis == nil || m.Analysis.Summary != "x" {
		t.Fatalf("unexpected state after SaveAnalysis: %+v", m)
	}
}

func TestRecordFailureParksAtLimit(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id := insert(t, repo, &model.Message{Category: model.CategoryRespond})

	for i := 1; i <= 3; i++ {
		attempts, parked, err := repo.RecordFailure(ctx, id, "boom", 3)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if attempts != i || parked != (i == 3) {
			t.Fatalf("attempt %d: got (%d, %v)", i, attempts, parked)
		}
	}

	pending, _ := repo.GetMessages(ctx, model.PendingFilter(10))
	if len(pending) != 0 {
		t.Fatalf("parked email still pending: %v", ids(pending))
	}
}

func TestGetMessageNotFound(t *testing.T) {
	_, err := newRepo(t).GetMessage(context.Background(), 404)
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `[
		{"id": 10, "sender": "a@x.com", "subject": "Invoice", "body": "Pay $5", "received_at": "2024-03-01T09:00:00Z", "category": "respond"},
		{"id": 11, "sender": "b@x.com", "subject": "Hi", "body": "Hello", "received_at": "2024-03-02T09:00:00Z", "category": "Done"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	repo := newRepo(t)
	n, err := repo.LoadSeedFile(context.Background(), path)
	if err != nil || n != 2 {
		t.Fatalf("LoadSeedFile = (%d, %v)", n, err)
	}
	m, err := repo.GetMessage(context.Background(), 11)
	if err != nil || m.Category != model.CategoryDone {
		t.Fatalf("seeded email 11 = %+v, %v", m, err)
	}

	id := insert(t, repo, &model.Message{Subject: "next"})
	if id != 12 {
		t.Fatalf("auto id after seed = %d, want 12", id)
	}
}

func ids(ms []*model.Message) []int64 {
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSetCategoryLeavesAnalysis(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	insert(t, repo, &model.Message{ID: 1, Category: model.CategoryRespond, ReceivedAt: base, Embedding: []float32{1, 0}})
	if err := repo.SaveAnalysis(ctx, 1, &model.AnalysisResult{MessageID: 1, Summary: "s"}); err != nil {
		t.Fatal(err)
	}

	if err := repo.SetCategory(1, model.CategoryDone); err != nil {
		t.Fatal(err)
	}
	m, err := repo.GetMessage(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if m.Category != model.CategoryDone || !m.Analyzed || m.Analysis == nil {
		t.Fatalf("got %+v", m)
	}
	if err := repo.SetCategory(99, model.CategoryDone); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("SetCategory(99) = %v", err)
	}
}
