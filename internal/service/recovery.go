package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/repository"
)

// RecoveryService abandons battles whose process died mid-fight and returns
// their characters to the pool. It runs once at startup and then on a
// ticker.
type RecoveryService struct {
	battles     repository.BattleRepository
	locks       *LockService
	cache       repository.BattleCache
	orphanAfter time.Duration
	interval    time.Duration
	workers     int
	now         func() time.Time

	// OnAbandon, when set, is called after a battle has been abandoned.
	OnAbandon func(battleID string)
}

// NewRecoveryService creates a RecoveryService. cache may be nil.
func NewRecoveryService(battles repository.BattleRepository, locks *LockService, cache repository.BattleCache, orphanAfter, interval time.Duration) *RecoveryService {
	if orphanAfter <= 0 {
		orphanAfter = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RecoveryService{
		battles:     battles,
		locks:       locks,
		cache:       cache,
		orphanAfter: orphanAfter,
		interval:    interval,
		workers:     4,
		now:         time.Now,
	}
}

// Start cleans up once and then polls until ctx is cancelled.
func (r *RecoveryService) Start(ctx context.Context) {
	if _, err := r.CleanupOrphanedBattles(ctx); err != nil {
		log.Error().Err(err).Msg("Startup orphan cleanup failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Dur("orphanAfter", r.orphanAfter).Msg("Orphaned battle poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Orphaned battle poller stopped")
			return
		case <-ticker.C:
			if _, err := r.CleanupOrphanedBattles(ctx); err != nil {
				log.Error().Err(err).Msg("Orphan cleanup failed")
			}
		}
	}
}

// CleanupOrphanedBattles abandons every active battle started before the
// orphan cutoff and force-releases its locks. It returns how many battles
// were cleaned and the first failure. A failure on one battle does not stop
// the others.
func (r *RecoveryService) CleanupOrphanedBattles(ctx context.Context) (int, error) {
	stale, err := r.battles.ListStaleActive(ctx, r.now().Add(-r.orphanAfter))
	if err != nil {
		return 0, err
	}
	if len(stale) > 0 {
		log.Info().Int("count", len(stale)).Msg("Found orphaned battles")
	}

	var (
		cleaned  atomic.Int64
		once     sync.Once
		firstErr error
	)
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, b := range stale {
		id := b.ID
		g.Go(func() error {
			if err := r.abandon(ctx, id); err != nil {
				log.Error().Err(err).Str("battleId", id).Msg("Failed to clean up orphaned battle")
				once.Do(func() { firstErr = fmt.Errorf("abandon battle %s: %w", id, err) })
				return nil
			}
			cleaned.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(cleaned.Load()), firstErr
}

func (r *RecoveryService) abandon(ctx context.Context, battleID string) error {
	if err := r.battles.MarkAbandoned(ctx, battleID); err != nil {
		return err
	}
	if err := r.locks.ForceUnlockBattle(ctx, battleID); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.DeleteBattleData(ctx, battleID); err != nil {
			log.Warn().Err(err).Str("battleId", battleID).Msg("Failed to delete cache for abandoned battle")
		}
	}
	if r.OnAbandon != nil {
		r.OnAbandon(battleID)
	}
	metrics.BattlesEnded.WithLabelValues("abandoned").Inc()
	log.Info().Str("battleId", battleID).Msg("Orphaned battle abandoned")
	return nil
}
