package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/events"
	"github.com/freeeve/coachwars/internal/logger"
	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/internal/oracle"
	"github.com/freeeve/coachwars/internal/repository"
	"github.com/freeeve/coachwars/pkg/battle"
)

// ErrTurnInFlight means another turn for the same battle is being resolved.
var ErrTurnInFlight = fmt.Errorf("turn already in flight: %w", battle.ErrConcurrencyConflict)

// RefusalDeclaration is spoken when a rebelling character cannot settle on
// anything to do.
const RefusalDeclaration = "I... I can't. Not now."

// TurnPhase is where a turn is in its lifecycle.
type TurnPhase string

const (
	PhaseAwaitingOrder  TurnPhase = "awaiting_order"
	PhaseAdherenceCheck TurnPhase = "adherence_check"
	PhaseExecuting      TurnPhase = "executing"
	PhasePersisted      TurnPhase = "persisted"
	PhaseBattleEnded    TurnPhase = "battle_ended"
)

// TurnResult is what ExecuteTurn committed.
type TurnResult struct {
	TurnID           string                 `json:"turn_id"`
	Phase            TurnPhase              `json:"phase"`
	Entry            *model.ActionLogEntry  `json:"entry"`
	Adherence        battle.AdherenceResult `json:"adherence"`
	Reluctant        bool                   `json:"reluctant,omitempty"`
	AdherencePenalty int                    `json:"adherence_penalty,omitempty"`
	Ruling           *model.JudgeRuling     `json:"judge_ruling,omitempty"`
	End              battle.EndState        `json:"end"`
	Context          *battle.BattleContext  `json:"context"`
}

// TurnConfig tunes the turn engine.
type TurnConfig struct {
	LeaseTTL         time.Duration
	PregenTTL        time.Duration
	RebellionPenalty int
	JudgeID          string
}

// TurnDeps are the collaborators of a TurnService. Chooser is required;
// Narrator, Judge, Cache, Broadcaster and Publisher are optional.
type TurnDeps struct {
	Reconstructor *Reconstructor
	Catalogue     *CatalogueCache
	Characters    repository.CharacterRepository
	Turns         repository.TurnRepository
	Cache         repository.BattleCache
	Locks         *LockService
	Adherence     *AdherenceService
	Dice          battle.Dice
	Chooser       oracle.Chooser
	Narrator      oracle.Narrator
	Judge         oracle.Judge
	Broadcaster   Broadcaster
	Publisher     EventPublisher
}

// TurnService resolves one character activation at a time per battle:
// reconstruct, gate, execute, persist, announce.
type TurnService struct {
	TurnDeps
	cfg TurnConfig

	generateOptions func(*battle.BattleContext, *battle.Catalogue, string, *battle.CoachOrder) []battle.Option

	// battleLocks serializes turns for the same battle within this process;
	// the Redis lease does the same across processes.
	battleLocks sync.Map
}

// NewTurnService creates a TurnService.
func NewTurnService(deps TurnDeps, cfg TurnConfig) *TurnService {
	if deps.Broadcaster == nil {
		deps.Broadcaster = NoopBroadcaster{}
	}
	if deps.Publisher == nil {
		deps.Publisher = NoopPublisher{}
	}
	deps.Narrator = oracle.FallbackNarrator{Primary: deps.Narrator}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.PregenTTL <= 0 {
		cfg.PregenTTL = 2 * time.Minute
	}
	return &TurnService{TurnDeps: deps, cfg: cfg, generateOptions: battle.GenerateOptions}
}

func (s *TurnService) battleLock(battleID string) *sync.Mutex {
	v, _ := s.battleLocks.LoadOrStore(battleID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ForgetBattle drops the in-process turn lock of a battle that can take no
// more turns.
func (s *TurnService) ForgetBattle(battleID string) {
	s.battleLocks.Delete(battleID)
}

// GenerateOptions lists what characterID could do right now.
func (s *TurnService) GenerateOptions(ctx context.Context, battleID, characterID string, order *battle.CoachOrder) ([]battle.Option, error) {
	rec, err := s.Reconstructor.Reconstruct(ctx, battleID)
	if err != nil {
		return nil, err
	}
	cat, err := s.Catalogue.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.generateOptions(rec.Context, cat, characterID, order), nil
}

// PregenerateRebellion asks the chooser ahead of time, while the coach is
// still deciding, and caches the answer for the next sequence number. It is
// an optimization only: ExecuteTurn revalidates whatever it finds.
func (s *TurnService) PregenerateRebellion(ctx context.Context, battleID, characterID string, order battle.CoachOrder) error {
	if s.Cache == nil {
		return nil
	}
	rec, err := s.Reconstructor.Reconstruct(ctx, battleID)
	if err != nil {
		return err
	}
	cat, err := s.Catalogue.Get(ctx)
	if err != nil {
		return err
	}
	opts := s.generateOptions(rec.Context, cat, characterID, &order)
	candidates := battle.RebellionCandidates(opts)
	if len(candidates) == 0 {
		return nil
	}
	req := oracle.ChoiceRequest{Situation: situationFor(rec, characterID), Order: order, Candidates: candidates}
	choice, err := s.Chooser.ChooseRebellion(ctx, req)
	if err != nil {
		return fmt.Errorf("pregenerate rebellion: %w", err)
	}
	raw, err := json.Marshal(choice)
	if err != nil {
		return fmt.Errorf("marshal rebellion choice: %w", err)
	}
	return s.Cache.SetPregenerated(ctx, battleID, rec.LastSequence+1, characterID, raw, s.cfg.PregenTTL)
}

// turnPlan is the action a turn will execute and why.
type turnPlan struct {
	action        battle.Action
	declaration   string
	rebellion     bool
	rebellionType string
	reluctant     bool
	chosen        battle.Option
}

// ExecuteTurn resolves the coach's order for characterID. Nothing is written
// unless the whole turn succeeds; an oracle timeout aborts without a log
// entry so the caller can retry.
func (s *TurnService) ExecuteTurn(ctx context.Context, battleID, userID, characterID string, order battle.CoachOrder) (res *TurnResult, err error) {
	start := time.Now()
	turnID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, turnID)
	tlog := logger.ForRequest(ctx).With().Str("battleId", battleID).Str("characterId", characterID).Logger()
	defer func() {
		result := "error"
		if res != nil {
			result = "pass"
			switch {
			case res.Reluctant:
				result = "reluctant"
			case res.Entry.IsRebellion:
				result = "rebellion"
			}
		}
		metrics.TurnDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if battleID == "" {
		return nil, &battle.ValidationError{Field: "battle_id", Message: "required"}
	}
	if characterID == "" {
		return nil, &battle.ValidationError{Field: "character_id", Message: "required"}
	}
	if _, err := order.Action(); err != nil {
		return nil, err
	}

	mu := s.battleLock(battleID)
	mu.Lock()
	defer mu.Unlock()
	if s.Cache != nil {
		ok, err := s.Cache.AcquireTurnLease(ctx, battleID, turnID, s.cfg.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire turn lease: %w", err)
		}
		if !ok {
			return nil, ErrTurnInFlight
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.Cache.ReleaseTurnLease(rctx, battleID, turnID); err != nil {
				tlog.Warn().Err(err).Msg("Failed to release turn lease")
			}
		}()
	}

	phase := PhaseAwaitingOrder
	tlog.Debug().Str("phase", string(phase)).Str("order", order.Describe()).Msg("Turn started")

	rec, err := s.Reconstructor.Reconstruct(ctx, battleID)
	if err != nil {
		return nil, err
	}
	b := rec.Battle
	if b.Status != model.BattleActive {
		if b.Status == model.BattleCompleted || b.Status == model.BattleAbandoned {
			s.ForgetBattle(battleID)
		}
		return nil, &battle.StateError{Message: fmt.Sprintf("battle %s is %s", battleID, b.Status)}
	}
	side, ok := b.SideOf(userID)
	if !ok {
		return nil, &battle.StateError{Message: fmt.Sprintf("user %s is not in battle %s", userID, battleID)}
	}
	actor := rec.Context.Characters[characterID]
	if actor == nil {
		return nil, &battle.StateError{Message: fmt.Sprintf("character %s is not in battle %s", characterID, battleID)}
	}
	if actor.Side != side {
		return nil, &battle.StateError{Message: fmt.Sprintf("character %s does not belong to user %s", characterID, userID)}
	}
	upcoming, round, turn, ok := rec.Context.Upcoming()
	if !ok || upcoming != characterID {
		return nil, &battle.StateError{Message: fmt.Sprintf("it is not %s's turn (next is %s)", characterID, upcoming)}
	}

	record, err := s.Characters.FindByID(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("find character: %w", err)
	}
	if record == nil {
		return nil, &battle.DataIntegrityError{BattleID: battleID, Message: fmt.Sprintf("character %s has no record", characterID)}
	}

	cat, err := s.Catalogue.Get(ctx)
	if err != nil {
		return nil, err
	}
	opts := s.generateOptions(rec.Context, cat, characterID, &order)

	phase = PhaseAdherenceCheck
	adherence, err := s.Adherence.CheckBattle(ctx, rec.Context, characterID, record.GameplanAdherence, order)
	if err != nil {
		return nil, err
	}
	tlog.Info().Str("phase", string(phase)).Int("roll", adherence.Roll).Int("threshold", adherence.Threshold).
		Bool("passed", adherence.Passed).Msg("Adherence check")

	situation := situationFor(rec, characterID)
	var plan turnPlan
	if adherence.Passed {
		plan, err = s.followOrder(ctx, situation, order)
	} else {
		plan, err = s.rebel(ctx, rec, situation, order, opts, &tlog)
	}
	if err != nil {
		return nil, err
	}

	phase = PhaseExecuting
	outcome, err := battle.Execute(rec.Context, cat, characterID, plan.action, s.Dice)
	if err != nil {
		tlog.Info().Err(err).Str("phase", string(phase)).Msg("Action rejected")
		return nil, err
	}

	entry := model.ActionLogEntry{
		ID:          uuid.NewString(),
		BattleID:    battleID,
		Sequence:    rec.LastSequence + 1,
		Round:       round,
		Turn:        turn,
		CharacterID: characterID,
		ActionType:  plan.action.Type(),
		Payload:     battle.OrderFor(plan.action),
		Outcome:     *outcome,
		Adherence:   &adherence,
		IsRebellion: plan.rebellion,
		Declaration: plan.declaration,
	}
	penalty := 0
	var ruling *model.JudgeRuling
	if plan.rebellion {
		coachOrder := order
		psych := record.Psych
		entry.CoachOrder = &coachOrder
		entry.Psych = &psych
		entry.RebellionType = plan.rebellionType
		penalty = s.cfg.RebellionPenalty
		ruling = s.rule(ctx, situation, order, plan, &tlog)
		metrics.Rebellions.WithLabelValues(plan.rebellionType).Inc()
	} else if plan.reluctant {
		metrics.Rebellions.WithLabelValues("reluctant").Inc()
	}

	next := rec.Context.Clone()
	if err := next.Apply(entry.LogEntry()); err != nil {
		return nil, err
	}
	end := next.CheckEnd()

	commit := &model.TurnCommit{Entry: entry, Ruling: ruling, AdherencePenalty: penalty}
	if end.Ended {
		commit.End = &end
	}
	saved, err := s.Turns.CommitTurn(ctx, commit)
	if err != nil {
		if errors.Is(err, battle.ErrConcurrencyConflict) {
			tlog.Warn().Err(err).Msg("Turn lost a sequence race")
		}
		return nil, err
	}

	phase = PhasePersisted
	res = &TurnResult{
		TurnID:           turnID,
		Phase:            phase,
		Entry:            saved,
		Adherence:        adherence,
		Reluctant:        plan.reluctant,
		AdherencePenalty: penalty,
		Ruling:           ruling,
		End:              end,
		Context:          next,
	}
	tlog.Info().Str("phase", string(phase)).Int("seq", saved.Sequence).Str("action", string(saved.ActionType)).
		Bool("rebellion", saved.IsRebellion).Msg("Turn persisted")

	s.Broadcaster.BroadcastBattleEvent(battleID, EventTurnResolved, saved)
	s.publish(ctx, events.TurnResolved, fmt.Sprintf("%s:%d", battleID, saved.Sequence), saved)

	if end.Ended {
		res.Phase = PhaseBattleEnded
		s.finishBattle(ctx, battleID, end)
	}
	return res, nil
}

func (s *TurnService) followOrder(ctx context.Context, situation oracle.Situation, order battle.CoachOrder) (turnPlan, error) {
	action, err := order.Action()
	if err != nil {
		return turnPlan{}, err
	}
	line, err := s.Narrator.Declare(ctx, oracle.DeclarationRequest{Situation: situation, Order: order})
	if err != nil {
		return turnPlan{}, err
	}
	return turnPlan{action: action, declaration: line}, nil
}

// rebel decides what a character that failed its roll does instead. With
// no alternative it complies reluctantly; when no choice can be obtained it
// refuses and ends its turn.
func (s *TurnService) rebel(ctx context.Context, rec *Reconstruction, situation oracle.Situation, order battle.CoachOrder, opts []battle.Option, tlog *zerolog.Logger) (turnPlan, error) {
	candidates := battle.RebellionCandidates(opts)
	if len(candidates) == 0 {
		action, err := order.Action()
		if err != nil {
			return turnPlan{}, err
		}
		tlog.Info().Msg("No alternative to the coach's order, complying reluctantly")
		return turnPlan{
			action:      action,
			declaration: "Fine. There's nothing else I can do anyway.",
			reluctant:   true,
		}, nil
	}

	req := oracle.ChoiceRequest{Situation: situation, Order: order, Candidates: candidates}
	choice := s.takePregenerated(ctx, rec, situation.Character.ID, req, tlog)
	if choice == nil {
		c, err := s.Chooser.ChooseRebellion(ctx, req)
		if errors.Is(err, battle.ErrOracleTimeout) {
			return turnPlan{}, err
		}
		if err != nil {
			tlog.Error().Err(err).Msg("Rebellion choice failed, character refuses")
			return refusal(), nil
		}
		choice = c
	}

	opt, err := oracle.ValidateChoice(choice, req)
	if err != nil {
		tlog.Error().Err(err).Msg("Rebellion choice invalid, character refuses")
		return refusal(), nil
	}
	action, err := opt.Order().Action()
	if err != nil {
		return turnPlan{}, err
	}
	return turnPlan{
		action:        action,
		declaration:   choice.Declaration,
		rebellion:     true,
		rebellionType: choice.RebellionType,
		chosen:        opt,
	}, nil
}

func refusal() turnPlan {
	return turnPlan{
		action:        battle.EndTurn{},
		declaration:   RefusalDeclaration,
		rebellion:     true,
		rebellionType: model.RebellionRefuse,
		chosen:        battle.Option{ID: "end_turn", Type: battle.ActionEndTurn, Label: "Refuse to act"},
	}
}

func (s *TurnService) takePregenerated(ctx context.Context, rec *Reconstruction, characterID string, req oracle.ChoiceRequest, tlog *zerolog.Logger) *oracle.Choice {
	if s.Cache == nil {
		return nil
	}
	raw, err := s.Cache.TakePregenerated(ctx, rec.Battle.ID, rec.LastSequence+1, characterID)
	if err != nil {
		tlog.Warn().Err(err).Msg("Failed to read pregenerated rebellion")
		return nil
	}
	if raw == nil {
		return nil
	}
	var c oracle.Choice
	if err := json.Unmarshal(raw, &c); err != nil {
		tlog.Warn().Err(err).Msg("Discarding undecodable pregenerated rebellion")
		return nil
	}
	if _, err := oracle.ValidateChoice(&c, req); err != nil {
		tlog.Info().Err(err).Msg("Pregenerated rebellion no longer valid")
		return nil
	}
	return &c
}

// rule asks the judge about a rebellion. Failures are logged and produce no
// ruling.
func (s *TurnService) rule(ctx context.Context, situation oracle.Situation, order battle.CoachOrder, plan turnPlan, tlog *zerolog.Logger) *model.JudgeRuling {
	if s.Judge == nil || s.cfg.JudgeID == "" {
		return nil
	}
	r, err := s.Judge.Rule(ctx, oracle.RulingRequest{
		Situation:     situation,
		JudgeID:       s.cfg.JudgeID,
		Order:         order,
		Chosen:        plan.chosen,
		Declaration:   plan.declaration,
		RebellionType: plan.rebellionType,
	})
	if err != nil {
		tlog.Warn().Err(err).Msg("Judge ruling failed, continuing without one")
		return nil
	}
	effects, _ := json.Marshal(r.Effects)
	ruling := &model.JudgeRuling{
		BattleID:         situation.BattleID,
		JudgeCharacterID: s.cfg.JudgeID,
		Round:            situation.Round,
		Situation: fmt.Sprintf("%s was ordered to %s and chose to %s instead",
			situation.Character.Name, order.Describe(), strings.ToLower(plan.chosen.Label)),
		Ruling:            r.Commentary,
		Verdict:           r.Verdict,
		GameplayEffect:    fmt.Sprintf("points %+d", r.Effects.PointsChange),
		MechanicalEffects: effects,
		RebelDeclaration:  plan.declaration,
	}
	if r.Verdict == "penalized" || r.Verdict == "severely_penalized" {
		ruling.PenalizedCharacterID = situation.Character.ID
	}
	return ruling
}

// finishBattle runs the post-commit work of a finished battle. The battle is
// already completed in the store, so failures here are only logged.
func (s *TurnService) finishBattle(ctx context.Context, battleID string, end battle.EndState) {
	if err := s.Locks.Unlock(ctx, battleID); err != nil {
		log.Error().Err(err).Str("battleId", battleID).Msg("Failed to unlock characters after battle end")
	}
	if s.Cache != nil {
		if err := s.Cache.DeleteBattleData(ctx, battleID); err != nil {
			log.Warn().Err(err).Str("battleId", battleID).Msg("Failed to delete battle cache data")
		}
	}
	s.ForgetBattle(battleID)
	metrics.BattlesEnded.WithLabelValues(end.Reason).Inc()

	ev := BattleEndedEvent{BattleID: battleID, Winner: string(end.Winner), Reason: end.Reason}
	if ev.Winner == "" {
		ev.Winner = "draw"
	}
	log.Info().Str("battleId", battleID).Str("winner", ev.Winner).Str("reason", end.Reason).Msg("Battle ended")
	s.Broadcaster.BroadcastBattleEvent(battleID, EventBattleEnded, ev)
	s.publish(ctx, events.BattleEnded, battleID+":end", ev)
}

func (s *TurnService) publish(ctx context.Context, routingKey, messageID string, payload any) {
	if err := s.Publisher.Publish(ctx, routingKey, messageID, payload); err != nil {
		log.Error().Err(err).Str("routingKey", routingKey).Str("messageId", messageID).Msg("Failed to publish event")
	}
}

// situationFor is what the oracles are told about characterID's position.
func situationFor(rec *Reconstruction, characterID string) oracle.Situation {
	ch := rec.Context.Characters[characterID]
	_, round, _, _ := rec.Context.Upcoming()
	s := oracle.Situation{BattleID: rec.Battle.ID, Round: round, Character: *ch}
	for _, id := range rec.Context.Roster(ch.Side) {
		if id != characterID {
			s.Allies = append(s.Allies, *rec.Context.Characters[id])
		}
	}
	for _, id := range rec.Context.Roster(ch.Side.Opponent()) {
		s.Enemies = append(s.Enemies, *rec.Context.Characters[id])
	}
	return s
}
