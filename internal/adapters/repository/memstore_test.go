package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/jumplab/internal/domain/model"
)

func result(id string, score float64) model.TestResult {
	return model.TestResult{
		SessionID:    id,
		TestType:     model.TestCountermovementJump,
		Metrics:      map[string]float64{model.MetricQualityScore: score},
		QualityScore: score,
	}
}

func TestInMemoryStore_SaveAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, result("s1", 90)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.QualityScore != 90 {
		t.Errorf("expected score 90, got %v", got.QualityScore)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_DuplicateSession(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, result("s1", 90)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Save(ctx, result("s1", 50)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if s.Count(ctx) != 1 {
		t.Errorf("expected count 1, got %d", s.Count(ctx))
	}
}

func TestInMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := s.Save(ctx, result(id, 70)); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}

	list := s.List(ctx)
	if len(list) != 3 {
		t.Fatalf("expected 3 results, got %d", len(list))
	}
	for i, want := range []string{"s3", "s2", "s1"} {
		if list[i].SessionID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, list[i].SessionID)
		}
	}
}
