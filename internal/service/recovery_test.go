package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/freeeve/coachwars/internal/model"
)

func TestCleanupOrphanedBattles(t *testing.T) {
	store := newMemStore()
	cache := newMockCache()
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	for id, started := range map[string]time.Time{"stale": old, "live": fresh} {
		s := started
		store.battles[id] = &model.Battle{ID: id, Status: model.BattleActive, StartedAt: &s}
	}
	store.battles["done"] = &model.Battle{ID: "done", Status: model.BattleCompleted, StartedAt: &old}
	store.locks["s1"] = "stale"
	store.locks["s2"] = "stale"
	store.locks["l1"] = "live"

	svc := NewRecoveryService(mockBattleRepo{store}, NewLockService(mockLockRepo{store}), cache, 24*time.Hour, time.Minute)
	n, err := svc.CleanupOrphanedBattles(context.Background())
	if err != nil {
		t.Fatalf("CleanupOrphanedBattles: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 battle cleaned, got %d", n)
	}
	if got := store.battle("stale").Status; got != model.BattleAbandoned {
		t.Errorf("expected stale battle abandoned, got %s", got)
	}
	if got := store.battle("live").Status; got != model.BattleActive {
		t.Errorf("live battle should stay active, got %s", got)
	}
	if got := store.battle("done").Status; got != model.BattleCompleted {
		t.Errorf("completed battle should be untouched, got %s", got)
	}
	if len(store.locks) != 1 || store.locks["l1"] != "live" {
		t.Errorf("only the live battle's lock should remain, got %v", store.locks)
	}
	if len(cache.deleted) != 1 || cache.deleted[0] != "stale" {
		t.Errorf("expected stale cache data deleted, got %v", cache.deleted)
	}

	n, err = svc.CleanupOrphanedBattles(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second pass should find nothing, got %d, %v", n, err)
	}
}

type flakyBattleRepo struct {
	mockBattleRepo
	failID string
}

func (r flakyBattleRepo) MarkAbandoned(ctx context.Context, id string) error {
	if id == r.failID {
		return errors.New("connection reset")
	}
	return r.mockBattleRepo.MarkAbandoned(ctx, id)
}

func TestCleanupOrphanedBattlesReportsFailure(t *testing.T) {
	store := newMemStore()
	old := time.Now().Add(-48 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		s := old
		store.battles[id] = &model.Battle{ID: id, Status: model.BattleActive, StartedAt: &s}
	}

	var forgotten []string
	repo := flakyBattleRepo{mockBattleRepo: mockBattleRepo{store}, failID: "b"}
	svc := NewRecoveryService(repo, NewLockService(mockLockRepo{store}), nil, 24*time.Hour, time.Minute)
	svc.workers = 1
	svc.OnAbandon = func(id string) { forgotten = append(forgotten, id) }

	n, err := svc.CleanupOrphanedBattles(context.Background())
	if err == nil || !strings.Contains(err.Error(), "abandon battle b") {
		t.Fatalf("expected failure for battle b, got %v", err)
	}
	if n != 2 {
		t.Errorf("the other battles should still be cleaned, got %d", n)
	}
	if got := store.battle("b").Status; got != model.BattleActive {
		t.Errorf("failed battle should stay active, got %s", got)
	}
	if len(forgotten) != 2 {
		t.Errorf("expected two abandon callbacks, got %v", forgotten)
	}
}

func TestRecoveryStartStopsOnCancel(t *testing.T) {
	store := newMemStore()
	svc := NewRecoveryService(mockBattleRepo{store}, NewLockService(mockLockRepo{store}), nil, time.Hour, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
