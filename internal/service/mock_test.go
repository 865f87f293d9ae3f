package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/internal/oracle"
	"github.com/freeeve/coachwars/pkg/battle"
)

// memStore backs every repository mock so that a committed turn is visible
// to the next reconstruction.
type memStore struct {
	mu        sync.Mutex
	battles   map[string]*model.Battle
	logs      map[string][]model.ActionLogEntry
	chars     map[string]*model.Character
	prefs     map[string]int
	ranks     map[string]int
	locks     map[string]string
	rulings   []model.JudgeRuling
	attacks   []battle.AttackType
	abilities []battle.AbilityDef

	commits        int
	catalogueLoads int
	catalogueErr   error
	listCalls      int
	activateErr    error
}

func newMemStore() *memStore {
	return &memStore{
		battles: make(map[string]*model.Battle),
		logs:    make(map[string][]model.ActionLogEntry),
		chars:   make(map[string]*model.Character),
		prefs:   make(map[string]int),
		ranks:   make(map[string]int),
		locks:   make(map[string]string),
		attacks: []battle.AttackType{
			{ID: "jab", Name: "Jab", APCost: 1, DamageMultiplier: 0.6, AccuracyModifier: 10, RequiresMelee: true},
			{ID: "strike", Name: "Strike", APCost: 2, DamageMultiplier: 1.0, RequiresMelee: true},
			{ID: "heavy", Name: "Heavy", APCost: 3, DamageMultiplier: 1.75, AccuracyModifier: -10, RequiresMelee: true},
		},
	}
}

func (s *memStore) addCharacter(id, owner string, adherence int) *model.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.Character{
		ID:                id,
		OwnerID:           owner,
		Name:              "Fighter " + id,
		Archetype:         "warrior",
		GameplanAdherence: adherence,
		Psych:             battle.Psych{Stress: 40, MentalHealth: 70, TeamTrust: 60, BattleFocus: 55},
	}
	s.chars[id] = c
	return c
}

func (s *memStore) character(id string) model.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.chars[id]
}

func (s *memStore) battle(id string) model.Battle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.battles[id]
}

func (s *memStore) entries(battleID string) []model.ActionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ActionLogEntry(nil), s.logs[battleID]...)
}

func prefKey(parts ...string) string {
	return fmt.Sprint(parts)
}

// --- BattleRepository ---

type mockBattleRepo struct{ *memStore }

func (m mockBattleRepo) Create(_ context.Context, b *model.Battle) (*model.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("battle-%d", len(m.battles)+1)
	}
	cp.Status = model.BattlePending
	cp.CurrentRound = 1
	cp.CreatedAt = time.Now()
	m.battles[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m mockBattleRepo) FindByID(_ context.Context, id string) (*model.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m mockBattleRepo) Activate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activateErr != nil {
		return m.activateErr
	}
	b, ok := m.battles[id]
	if !ok || b.Status != model.BattlePending {
		return &battle.StateError{Message: "battle " + id + " is not pending"}
	}
	now := time.Now()
	b.Status = model.BattleActive
	b.StartedAt = &now
	return nil
}

func (m mockBattleRepo) ListStaleActive(_ context.Context, startedBefore time.Time) ([]model.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Battle
	for _, b := range m.battles {
		if b.Status == model.BattleActive && b.StartedAt != nil && b.StartedAt.Before(startedBefore) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m mockBattleRepo) MarkAbandoned(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok || b.Status != model.BattleActive {
		return &battle.StateError{Message: "battle " + id + " is not active"}
	}
	now := time.Now()
	b.Status = model.BattleAbandoned
	b.CompletedAt = &now
	return nil
}

// --- ActionLogRepository ---

type mockLogRepo struct{ *memStore }

func (m mockLogRepo) ListByBattle(_ context.Context, battleID string, afterSeq, limit int) ([]model.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []model.ActionLogEntry
	for _, e := range m.logs[battleID] {
		if e.Sequence > afterSeq {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m mockLogRepo) LastSequence(_ context.Context, battleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[battleID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Sequence, nil
}

// --- TurnRepository ---

type mockTurnRepo struct{ *memStore }

func (m mockTurnRepo) CommitTurn(_ context.Context, c *model.TurnCommit) (*model.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := c.Entry
	if b, ok := m.battles[e.BattleID]; !ok || b.Status != model.BattleActive {
		return nil, &battle.StateError{Message: "battle " + e.BattleID + " is not active"}
	}
	for _, existing := range m.logs[e.BattleID] {
		if existing.Sequence == e.Sequence {
			return nil, &battle.SequenceConflictError{BattleID: e.BattleID, Sequence: e.Sequence}
		}
	}
	if c.Ruling != nil {
		r := *c.Ruling
		r.ID = fmt.Sprintf("ruling-%d", len(m.rulings)+1)
		m.rulings = append(m.rulings, r)
		e.JudgeRulingID = r.ID
	}
	if c.AdherencePenalty != 0 {
		if ch, ok := m.chars[e.CharacterID]; ok {
			ch.GameplanAdherence = max(0, ch.GameplanAdherence+c.AdherencePenalty)
		}
	}
	b := m.battles[e.BattleID]
	b.CurrentRound, b.CurrentTurn = e.Round, e.Turn
	if c.End != nil {
		now := time.Now()
		b.Status = model.BattleCompleted
		b.Winner = string(c.End.Winner)
		b.EndReason = c.End.Reason
		b.CompletedAt = &now
	}
	e.CreatedAt = time.Now()
	m.logs[e.BattleID] = append(m.logs[e.BattleID], e)
	m.commits++
	return &e, nil
}

// --- CharacterRepository ---

type mockCharRepo struct{ *memStore }

func (m mockCharRepo) FindByID(_ context.Context, id string) (*model.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chars[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m mockCharRepo) AbilityPreference(_ context.Context, characterID string, kind battle.AbilityKind, abilityID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.prefs[prefKey(characterID, string(kind), abilityID)]
	return v, ok, nil
}

func (m mockCharRepo) CategoryRank(_ context.Context, characterID, categoryType, value string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ranks[prefKey(characterID, categoryType, value)]
	return v, ok, nil
}

func (m mockCharRepo) ApplyRebellion(_ context.Context, characterID string, penalty int, lockoutUntil *time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chars[characterID]
	if !ok {
		return 0, &battle.StateError{Message: "character " + characterID + " not found"}
	}
	c.GameplanAdherence = max(0, c.GameplanAdherence+penalty)
	if lockoutUntil != nil {
		t := *lockoutUntil
		c.CoachLockoutUntil = &t
	}
	return c.GameplanAdherence, nil
}

// --- LockRepository ---

type mockLockRepo struct{ *memStore }

func (m mockLockRepo) LockCharacters(_ context.Context, battleID string, characterIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := map[string]string{}
	for _, id := range characterIDs {
		if other, ok := m.locks[id]; ok && other != battleID {
			held[id] = other
		}
	}
	if len(held) > 0 {
		return &battle.LockConflictError{BattleID: battleID, Held: held}
	}
	for _, id := range characterIDs {
		m.locks[id] = battleID
	}
	return nil
}

func (m mockLockRepo) UnlockBattle(_ context.Context, battleID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, b := range m.locks {
		if b == battleID {
			delete(m.locks, id)
			n++
		}
	}
	return n, nil
}

func (m mockLockRepo) ForceUnlock(_ context.Context, characterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, characterID)
	return nil
}

// --- CatalogueRepository ---

type mockCatalogueRepo struct{ *memStore }

func (m mockCatalogueRepo) LoadCatalogue(context.Context) ([]battle.AttackType, []battle.AbilityDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogueLoads++
	if m.catalogueErr != nil {
		return nil, nil, m.catalogueErr
	}
	return m.attacks, m.abilities, nil
}

// --- BattleCache ---

type mockCache struct {
	mu      sync.Mutex
	leases  map[string]string
	pregen  map[string]json.RawMessage
	deleted []string
}

func newMockCache() *mockCache {
	return &mockCache{leases: make(map[string]string), pregen: make(map[string]json.RawMessage)}
}

func (c *mockCache) AcquireTurnLease(_ context.Context, battleID, token string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.leases[battleID]; held {
		return false, nil
	}
	c.leases[battleID] = token
	return true, nil
}

func (c *mockCache) ReleaseTurnLease(_ context.Context, battleID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leases[battleID] == token {
		delete(c.leases, battleID)
	}
	return nil
}

func (c *mockCache) SetPregenerated(_ context.Context, battleID string, seq int, characterID string, choice json.RawMessage, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pregen[fmt.Sprintf("%s:%d:%s", battleID, seq, characterID)] = choice
	return nil
}

func (c *mockCache) TakePregenerated(_ context.Context, battleID string, seq int, characterID string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("%s:%d:%s", battleID, seq, characterID)
	raw := c.pregen[key]
	delete(c.pregen, key)
	return raw, nil
}

func (c *mockCache) DeleteBattleData(_ context.Context, battleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, battleID)
	return nil
}

// --- dice and oracles ---

// fixedDice always rolls the same value; Intn(100) = 99 is a d100 of 100,
// which fails every threshold below 100.
type fixedDice struct{ n int }

func (d fixedDice) Intn(n int) int   { return d.n % n }
func (d fixedDice) Float64() float64 { return 0.5 }

type fakeChooser struct {
	mu    sync.Mutex
	calls int
	pick  func(req oracle.ChoiceRequest) (*oracle.Choice, error)
}

func (f *fakeChooser) ChooseRebellion(_ context.Context, req oracle.ChoiceRequest) (*oracle.Choice, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.pick(req)
}

// firstCandidate picks the first offered alternative.
func firstCandidate() *fakeChooser {
	return &fakeChooser{pick: func(req oracle.ChoiceRequest) (*oracle.Choice, error) {
		return &oracle.Choice{OptionID: req.Candidates[0].ID, Declaration: "Not today, coach."}, nil
	}}
}

func failingChooser(err error) *fakeChooser {
	return &fakeChooser{pick: func(oracle.ChoiceRequest) (*oracle.Choice, error) { return nil, err }}
}

type fakeNarrator struct {
	line string
	err  error
}

func (n fakeNarrator) Declare(context.Context, oracle.DeclarationRequest) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	if n.line == "" {
		return "", errors.New("narrator offline")
	}
	return n.line, nil
}

type fakeJudge struct {
	ruling *oracle.Ruling
	err    error
	reqs   []oracle.RulingRequest
}

func (j *fakeJudge) Rule(_ context.Context, req oracle.RulingRequest) (*oracle.Ruling, error) {
	j.reqs = append(j.reqs, req)
	return j.ruling, j.err
}

// --- broadcast ---

type sentEvent struct {
	BattleID string
	Type     string
	Data     any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) BroadcastBattleEvent(battleID, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{battleID, eventType, data})
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type published struct {
	RoutingKey string
	MessageID  string
	Payload    any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey, messageID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{routingKey, messageID, payload})
	return nil
}

// --- fixtures ---

func testCombatant(id string, initiative int) battle.Combatant {
	return battle.Combatant{
		ID:               id,
		Name:             "Fighter " + id,
		Archetype:        "warrior",
		Health:           100,
		MaxHealth:        100,
		Mana:             30,
		MaxMana:          30,
		Stats:            battle.Stats{Attack: 50, Defense: 20, Initiative: initiative},
		BaseActionPoints: battle.BaseActionPoints,
	}
}

// seedDuel stores an active 1v1 battle "b1": u1 (coach-a) acts before o1
// (coach-b). Both characters are locked to it.
func seedDuel(s *memStore, userAdherence, opponentAdherence, maxRounds int) *model.Battle {
	s.addCharacter("u1", "coach-a", userAdherence)
	s.addCharacter("o1", "coach-b", opponentAdherence)
	now := time.Now()
	b := &model.Battle{
		ID:             "b1",
		UserID:         "coach-a",
		OpponentUserID: "coach-b",
		Status:         model.BattleActive,
		UserTeam:       battle.Team{OwnerID: "coach-a", Characters: []battle.Combatant{testCombatant("u1", 30)}},
		OpponentTeam:   battle.Team{OwnerID: "coach-b", Characters: []battle.Combatant{testCombatant("o1", 20)}},
		MaxRounds:      maxRounds,
		CurrentRound:   1,
		CreatedAt:      now,
		StartedAt:      &now,
	}
	s.mu.Lock()
	s.battles[b.ID] = b
	s.locks["u1"] = b.ID
	s.locks["o1"] = b.ID
	s.mu.Unlock()
	return b
}

type turnHarness struct {
	store       *memStore
	cache       *mockCache
	chooser     *fakeChooser
	judge       *fakeJudge
	broadcaster *recordingBroadcaster
	publisher   *recordingPublisher
	svc         *TurnService
}

func newTurnHarness(chooser *fakeChooser, cfg TurnConfig) *turnHarness {
	store := newMemStore()
	h := &turnHarness{
		store:       store,
		cache:       newMockCache(),
		chooser:     chooser,
		judge:       &fakeJudge{},
		broadcaster: &recordingBroadcaster{},
		publisher:   &recordingPublisher{},
	}
	dice := fixedDice{n: 99}
	h.svc = NewTurnService(TurnDeps{
		Reconstructor: NewReconstructor(mockBattleRepo{store}, mockLogRepo{store}),
		Catalogue:     NewCatalogueCache(mockCatalogueRepo{store}),
		Characters:    mockCharRepo{store},
		Turns:         mockTurnRepo{store},
		Cache:         h.cache,
		Locks:         NewLockService(mockLockRepo{store}),
		Adherence:     NewAdherenceService(mockCharRepo{store}, dice),
		Dice:          dice,
		Chooser:       chooser,
		Narrator:      fakeNarrator{line: "On it."},
		Judge:         h.judge,
		Broadcaster:   h.broadcaster,
		Publisher:     h.publisher,
	}, cfg)
	return h
}
