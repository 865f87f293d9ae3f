package main

import (
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/config"
	"github.com/freeeve/coachwars/internal/oracle"
	"github.com/freeeve/coachwars/internal/repository/postgres"
	redisrepo "github.com/freeeve/coachwars/internal/repository/redis"
	"github.com/freeeve/coachwars/internal/service"
	"github.com/freeeve/coachwars/pkg/battle"
)

// core is the battle engine as embedders see it.
type core struct {
	Battles  *service.BattleService
	Turns    *service.TurnService
	Loadouts *service.LoadoutService
	Locks    *service.LockService
	Replays  *service.Reconstructor
	Recovery *service.RecoveryService
}

func buildCore(cfg *config.Config, db *sql.DB, cache *redisrepo.Client, broadcaster service.Broadcaster, publisher service.EventPublisher, dice battle.Dice) *core {
	battleRepo := postgres.NewBattleRepo(db)
	logRepo := postgres.NewActionLogRepo(db)
	charRepo := postgres.NewCharacterRepo(db)

	locks := service.NewLockService(postgres.NewLockRepo(db))
	replays := service.NewReconstructor(battleRepo, logRepo)
	adherence := service.NewAdherenceService(charRepo, dice)

	chooser, narrator, judge := buildOracles(cfg.Oracle)

	turns := service.NewTurnService(service.TurnDeps{
		Reconstructor: replays,
		Catalogue:     service.NewCatalogueCache(postgres.NewCatalogueRepo(db)),
		Characters:    charRepo,
		Turns:         postgres.NewTurnRepo(db),
		Cache:         cache,
		Locks:         locks,
		Adherence:     adherence,
		Dice:          dice,
		Chooser:       chooser,
		Narrator:      narrator,
		Judge:         judge,
		Broadcaster:   broadcaster,
		Publisher:     publisher,
	}, service.TurnConfig{
		LeaseTTL:         cfg.Battle.TurnLeaseTTL,
		PregenTTL:        cfg.Battle.PregenTTL,
		RebellionPenalty: cfg.Battle.RebellionPenalty,
		JudgeID:          cfg.Oracle.JudgeID,
	})

	recovery := service.NewRecoveryService(battleRepo, locks, cache, cfg.Battle.OrphanAfter, cfg.Battle.RecoveryInterval)
	recovery.OnAbandon = turns.ForgetBattle

	return &core{
		Battles:  service.NewBattleService(battleRepo, locks, broadcaster, publisher),
		Turns:    turns,
		Loadouts: service.NewLoadoutService(charRepo, adherence, cfg.Battle.RebellionPenalty, cfg.Battle.CoachLockout),
		Locks:    locks,
		Replays:  replays,
		Recovery: recovery,
	}
}

// buildOracles prefers the LLM with the local policy behind it. Without an
// API key everything runs locally and rebellions go unjudged.
func buildOracles(cfg config.OracleConfig) (oracle.Chooser, oracle.Narrator, oracle.Judge) {
	policy := oracle.NewPolicyChooserFromFile(cfg.PolicyModelPath)
	if cfg.OpenAIKey == "" {
		log.Info().Msg("No OpenAI key, using local rebellion policy and template declarations")
		return policy, oracle.TemplateNarrator{}, nil
	}
	llm := oracle.NewOpenAI(oracle.OpenAIConfig{
		APIKey:  cfg.OpenAIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.Timeout,
	})
	return oracle.FallbackChooser{Primary: llm, Secondary: policy}, llm, llm
}

func newDice(seed int64) (battle.Dice, error) {
	if seed == 0 {
		var err error
		if seed, err = battle.RandomSeed(); err != nil {
			return nil, err
		}
	}
	log.Info().Int64("seed", seed).Msg("Dice seeded")
	return battle.NewLockedDice(battle.NewDice(seed)), nil
}
