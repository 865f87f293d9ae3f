package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonnx "github.com/advancedclimatesystems/gonnx"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

// NumFeatures is the width of one encoded option row.
const NumFeatures = 11

var typeSlots = map[battle.ActionType]int{
	battle.ActionAttack:  0,
	battle.ActionPower:   1,
	battle.ActionSpell:   2,
	battle.ActionMove:    3,
	battle.ActionDefend:  4,
	battle.ActionEndTurn: 5,
}

// EncodeOptions flattens the candidates into a row-major [n, NumFeatures]
// matrix: action type one-hot, AP cost, damage multiplier, target health,
// actor health and distance.
func EncodeOptions(actor battle.CharacterState, opts []battle.Option) []float32 {
	out := make([]float32, len(opts)*NumFeatures)
	actorHP := float32(0)
	if actor.MaxHealth > 0 {
		actorHP = float32(actor.Health) / float32(actor.MaxHealth)
	}
	for i, o := range opts {
		row := out[i*NumFeatures : (i+1)*NumFeatures]
		if slot, ok := typeSlots[o.Type]; ok {
			row[slot] = 1
		}
		row[6] = float32(o.APCost) / float32(battle.BaseActionPoints)
		row[7] = float32(o.Metadata[battle.MetaDamageMultiplier])
		if hp, ok := o.Metadata[battle.MetaTargetHPRatio]; ok {
			row[8] = float32(hp)
		}
		row[9] = actorHP
		row[10] = float32(o.Metadata[battle.MetaDistance]) / float32(battle.GridSize)
	}
	return out
}

// Scorer rates n encoded options; higher is preferred.
type Scorer interface {
	Score(features []float32, n int) ([]float32, error)
	Name() string
}

// PolicyChooser picks the best-scoring candidate without a network call. It
// is the offline chooser and the fallback when the LLM fails.
type PolicyChooser struct {
	scorer Scorer
}

// NewPolicyChooser wraps scorer.
func NewPolicyChooser(scorer Scorer) *PolicyChooser {
	return &PolicyChooser{scorer: scorer}
}

// NewPolicyChooserFromFile loads an ONNX policy from path, falling back to
// the heuristic scorer when the model cannot be loaded.
func NewPolicyChooserFromFile(path string) *PolicyChooser {
	if path == "" {
		return NewPolicyChooser(HeuristicScorer{})
	}
	s, err := LoadONNXScorer(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Rebellion policy model load failed, using heuristic scorer")
		return NewPolicyChooser(HeuristicScorer{})
	}
	return NewPolicyChooser(s)
}

// ChooseRebellion implements Chooser.
func (p *PolicyChooser) ChooseRebellion(ctx context.Context, req ChoiceRequest) (c *Choice, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOracle("choose", p.scorer.Name(), start, err) }()

	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrOracleFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores, err := p.scorer.Score(EncodeOptions(req.Situation.Character, req.Candidates), len(req.Candidates))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleFailed, err)
	}
	if len(scores) < len(req.Candidates) {
		return nil, fmt.Errorf("%w: %d scores for %d candidates", ErrOracleFailed, len(scores), len(req.Candidates))
	}
	best := 0
	for i := 1; i < len(req.Candidates); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	opt := req.Candidates[best]
	kind := DeriveRebellionType(req.Order, opt)
	return &Choice{
		OptionID:      opt.ID,
		Declaration:   rebellionLine(kind, opt),
		RebellionType: kind,
	}, nil
}

func rebellionLine(kind string, opt battle.Option) string {
	switch kind {
	case model.RebellionSelfPreserve:
		return "Not like this. I'm looking after myself."
	case model.RebellionDifferentTarget:
		return "Wrong target, coach. " + opt.Label + "."
	default:
		return "I've got a better idea: " + opt.Label + "."
	}
}

// HeuristicScorer is a hand-tuned linear policy over the encoded features.
type HeuristicScorer struct{}

func (HeuristicScorer) Name() string { return "heuristic" }

func (HeuristicScorer) Score(features []float32, n int) ([]float32, error) {
	if len(features) != n*NumFeatures {
		return nil, fmt.Errorf("expected %d features, got %d", n*NumFeatures, len(features))
	}
	scores := make([]float32, n)
	for i := range scores {
		row := features[i*NumFeatures : (i+1)*NumFeatures]
		hurt := row[9] <= 0.25
		switch {
		case row[0] == 1:
			scores[i] = 1 + row[7] + 2*(1-row[8])
		case row[1] == 1 || row[2] == 1:
			scores[i] = 1.5 + (1 - row[8])
		case row[3] == 1:
			scores[i] = 0.5
			if hurt {
				scores[i] += 1.5
			}
		case row[4] == 1:
			scores[i] = 0.8
			if hurt {
				scores[i] += 3
			}
		}
	}
	return scores, nil
}

// ONNXScorer runs a policy network exported with one input "features"
// [n, NumFeatures] and one output "scores" [n] or [n, 1].
type ONNXScorer struct {
	model *gonnx.Model
	mu    sync.Mutex
}

// LoadONNXScorer loads the model file at path.
func LoadONNXScorer(path string) (*ONNXScorer, error) {
	m, err := gonnx.NewModelFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load onnx policy: %w", err)
	}
	return &ONNXScorer{model: m}, nil
}

func (s *ONNXScorer) Name() string { return "onnx" }

func (s *ONNXScorer) Score(features []float32, n int) ([]float32, error) {
	in := tensor.New(
		tensor.WithShape(n, NumFeatures),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(features),
	)

	s.mu.Lock()
	outputs, err := s.model.Run(gonnx.Tensors{"features": in})
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run onnx policy: %w", err)
	}
	out, ok := outputs["scores"]
	if !ok {
		return nil, fmt.Errorf("onnx policy has no 'scores' output")
	}
	switch d := out.Data().(type) {
	case []float32:
		return d, nil
	case []float64:
		f32 := make([]float32, len(d))
		for i, v := range d {
			f32[i] = float32(v)
		}
		return f32, nil
	default:
		return nil, fmt.Errorf("unexpected onnx output type %T", d)
	}
}
