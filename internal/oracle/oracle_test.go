package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

func candidates() []battle.Option {
	return []battle.Option{
		{ID: "attack:jab:o2", Type: battle.ActionAttack, Label: "Jab Orc", APCost: 1, TargetID: "o2", AttackTypeID: "jab", Valid: true,
			Metadata: map[string]float64{battle.MetaDamageMultiplier: 0.6, battle.MetaTargetHPRatio: 0.2, battle.MetaDistance: 1}},
		{ID: "move:3,5", Type: battle.ActionMove, Label: "Move to 3,5", APCost: 1, Valid: true},
		{ID: "defend", Type: battle.ActionDefend, Label: "Defend", APCost: 1, Valid: true},
	}
}

func request(health int) ChoiceRequest {
	return ChoiceRequest{
		Situation: Situation{
			BattleID:  "b1",
			Round:     2,
			Character: battle.CharacterState{ID: "u1", Name: "Achilles", Health: health, MaxHealth: 100, Alive: true},
		},
		Order:      battle.CoachOrder{ActionType: battle.ActionAttack, AttackTypeID: "strike", TargetID: "o1"},
		Candidates: candidates(),
	}
}

func TestDeriveRebellionType(t *testing.T) {
	attackO1 := battle.CoachOrder{ActionType: battle.ActionAttack, TargetID: "o1"}
	tests := []struct {
		name   string
		order  battle.CoachOrder
		chosen battle.Option
		want   string
	}{
		{"defend instead", attackO1, battle.Option{Type: battle.ActionDefend}, model.RebellionSelfPreserve},
		{"walk away", attackO1, battle.Option{Type: battle.ActionMove}, model.RebellionSelfPreserve},
		{"other target", attackO1, battle.Option{Type: battle.ActionAttack, TargetID: "o2"}, model.RebellionDifferentTarget},
		{"spell instead", attackO1, battle.Option{Type: battle.ActionSpell, TargetID: "o1"}, model.RebellionDifferentAction},
		{"other hex", battle.CoachOrder{ActionType: battle.ActionMove}, battle.Option{Type: battle.ActionMove}, model.RebellionDifferentAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveRebellionType(tt.order, tt.chosen))
		})
	}
}

func TestValidateChoice(t *testing.T) {
	req := request(80)

	_, err := ValidateChoice(&Choice{OptionID: "attack:heavy:o9"}, req)
	require.ErrorIs(t, err, ErrInvalidChoice)

	c := &Choice{OptionID: "attack:jab:o2", RebellionType: "mutiny"}
	opt, err := ValidateChoice(c, req)
	require.NoError(t, err)
	assert.Equal(t, "o2", opt.TargetID)
	assert.Equal(t, model.RebellionDifferentTarget, c.RebellionType)

	c = &Choice{OptionID: "defend", RebellionType: model.RebellionDifferentAction}
	_, err = ValidateChoice(c, req)
	require.NoError(t, err)
	assert.Equal(t, model.RebellionDifferentAction, c.RebellionType, "a known type is kept")
}

func TestEncodeOptions(t *testing.T) {
	actor := battle.CharacterState{Health: 50, MaxHealth: 100}
	f := EncodeOptions(actor, candidates())
	require.Len(t, f, 3*NumFeatures)

	attack := f[:NumFeatures]
	assert.Equal(t, float32(1), attack[0])
	assert.InDelta(t, 1.0/3.0, attack[6], 1e-6)
	assert.InDelta(t, 0.6, attack[7], 1e-6)
	assert.InDelta(t, 0.2, attack[8], 1e-6)
	assert.InDelta(t, 0.5, attack[9], 1e-6)

	defend := f[2*NumFeatures:]
	assert.Equal(t, float32(1), defend[4])
	assert.Zero(t, defend[0])
}

func TestPolicyChooserHeuristic(t *testing.T) {
	p := NewPolicyChooser(HeuristicScorer{})

	c, err := p.ChooseRebellion(context.Background(), request(90))
	require.NoError(t, err)
	assert.Equal(t, "attack:jab:o2", c.OptionID, "a healthy character finishes off the weak enemy")
	assert.Equal(t, model.RebellionDifferentTarget, c.RebellionType)
	assert.NotEmpty(t, c.Declaration)

	c, err = p.ChooseRebellion(context.Background(), request(20))
	require.NoError(t, err)
	assert.Equal(t, "defend", c.OptionID, "a badly hurt character protects itself")
	assert.Equal(t, model.RebellionSelfPreserve, c.RebellionType)
}

type stubScorer struct {
	scores []float32
	err    error
}

func (s stubScorer) Name() string { return "stub" }

func (s stubScorer) Score([]float32, int) ([]float32, error) { return s.scores, s.err }

func TestPolicyChooserScorerFailures(t *testing.T) {
	_, err := NewPolicyChooser(stubScorer{err: errors.New("boom")}).ChooseRebellion(context.Background(), request(90))
	require.ErrorIs(t, err, ErrOracleFailed)

	_, err = NewPolicyChooser(stubScorer{scores: []float32{1}}).ChooseRebellion(context.Background(), request(90))
	require.ErrorIs(t, err, ErrOracleFailed)

	req := request(90)
	req.Candidates = nil
	_, err = NewPolicyChooser(HeuristicScorer{}).ChooseRebellion(context.Background(), req)
	require.ErrorIs(t, err, ErrOracleFailed)
}

func TestPolicyChooserTiesPickFirst(t *testing.T) {
	c, err := NewPolicyChooser(stubScorer{scores: []float32{2, 5, 5}}).ChooseRebellion(context.Background(), request(90))
	require.NoError(t, err)
	assert.Equal(t, "move:3,5", c.OptionID)
}

func TestNewPolicyChooserFromMissingFile(t *testing.T) {
	p := NewPolicyChooserFromFile("/nonexistent/policy.onnx")
	assert.Equal(t, "heuristic", p.scorer.Name())
}

type chooserFunc func(context.Context, ChoiceRequest) (*Choice, error)

func (f chooserFunc) ChooseRebellion(ctx context.Context, req ChoiceRequest) (*Choice, error) {
	return f(ctx, req)
}

func TestFallbackChooser(t *testing.T) {
	secondary := chooserFunc(func(context.Context, ChoiceRequest) (*Choice, error) {
		return &Choice{OptionID: "defend"}, nil
	})

	failing := chooserFunc(func(context.Context, ChoiceRequest) (*Choice, error) {
		return nil, ErrOracleFailed
	})
	c, err := FallbackChooser{Primary: failing, Secondary: secondary}.ChooseRebellion(context.Background(), request(90))
	require.NoError(t, err)
	assert.Equal(t, "defend", c.OptionID)

	timingOut := chooserFunc(func(context.Context, ChoiceRequest) (*Choice, error) {
		return nil, &battle.OracleTimeoutError{Op: "choose", Err: context.DeadlineExceeded}
	})
	_, err = FallbackChooser{Primary: timingOut, Secondary: secondary}.ChooseRebellion(context.Background(), request(90))
	require.ErrorIs(t, err, battle.ErrOracleTimeout)

	_, err = FallbackChooser{Primary: failing}.ChooseRebellion(context.Background(), request(90))
	require.ErrorIs(t, err, ErrOracleFailed)
}

type narratorFunc func(context.Context, DeclarationRequest) (string, error)

func (f narratorFunc) Declare(ctx context.Context, req DeclarationRequest) (string, error) {
	return f(ctx, req)
}

func TestFallbackNarrator(t *testing.T) {
	req := DeclarationRequest{Order: battle.CoachOrder{ActionType: battle.ActionDefend}}

	line, err := FallbackNarrator{Primary: narratorFunc(func(context.Context, DeclarationRequest) (string, error) {
		return "", errors.New("down")
	})}.Declare(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Holding the line, coach.", line)

	line, err = FallbackNarrator{Primary: narratorFunc(func(context.Context, DeclarationRequest) (string, error) {
		return "For glory!", nil
	})}.Declare(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "For glory!", line)
}

func TestFallbackNarratorPassesTimeoutThrough(t *testing.T) {
	req := DeclarationRequest{Order: battle.CoachOrder{ActionType: battle.ActionDefend}}
	_, err := FallbackNarrator{Primary: narratorFunc(func(context.Context, DeclarationRequest) (string, error) {
		return "", &battle.OracleTimeoutError{Op: "declare", Err: context.DeadlineExceeded}
	})}.Declare(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, battle.ErrOracleTimeout)
}

// --- OpenAI ---

func completionServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAI(srv *httptest.Server, timeout time.Duration) *OpenAI {
	return NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Timeout: timeout})
}

func TestOpenAIChooseRebellion(t *testing.T) {
	srv := completionServer(t, `{"chosen_option": "defend", "declaration": "Not today.", "rebellion_type": "self_preservation"}`, 0)
	c, err := newTestOpenAI(srv, time.Second).ChooseRebellion(context.Background(), request(40))
	require.NoError(t, err)
	assert.Equal(t, "defend", c.OptionID)
	assert.Equal(t, "Not today.", c.Declaration)
	assert.Equal(t, model.RebellionSelfPreserve, c.RebellionType)
}

func TestOpenAIRejectsUnknownOption(t *testing.T) {
	srv := completionServer(t, `{"chosen_option": "spell:meteor:o1", "declaration": "Burn!", "rebellion_type": "different_action"}`, 0)
	_, err := newTestOpenAI(srv, time.Second).ChooseRebellion(context.Background(), request(40))
	require.ErrorIs(t, err, ErrInvalidChoice)
	assert.False(t, errors.Is(err, battle.ErrOracleTimeout))
}

func TestOpenAIMalformedResponse(t *testing.T) {
	srv := completionServer(t, `not json`, 0)
	_, err := newTestOpenAI(srv, time.Second).Declare(context.Background(), DeclarationRequest{})
	require.ErrorIs(t, err, ErrOracleFailed)
}

func TestOpenAITimeout(t *testing.T) {
	srv := completionServer(t, `{"declaration": "late"}`, 2*time.Second)
	_, err := newTestOpenAI(srv, 50*time.Millisecond).Declare(context.Background(), DeclarationRequest{})
	require.ErrorIs(t, err, battle.ErrOracleTimeout)
}

func TestOpenAIRule(t *testing.T) {
	srv := completionServer(t, `{"verdict": "penalized", "commentary": "Insubordination.", "mechanical_effects": {"points_change": -3, "debuffs": ["shaken"]}}`, 0)
	r, err := newTestOpenAI(srv, time.Second).Rule(context.Background(), RulingRequest{JudgeID: "ruth"})
	require.NoError(t, err)
	assert.Equal(t, "penalized", r.Verdict)
	assert.Equal(t, -3, r.Effects.PointsChange)
	assert.Equal(t, []string{"shaken"}, r.Effects.Debuffs)

	srv = completionServer(t, `{"verdict": "executed", "commentary": "x"}`, 0)
	_, err = newTestOpenAI(srv, time.Second).Rule(context.Background(), RulingRequest{})
	require.ErrorIs(t, err, ErrOracleFailed)
}
