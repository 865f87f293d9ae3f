// Package oracle holds the non-deterministic collaborators of a turn: the
// rebellion chooser, the declaration narrator and the judge. Implementations
// are backed by an LLM (go-openai) or a local ONNX policy.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/freeeve/coachwars/internal/model"
	"github.com/freeeve/coachwars/pkg/battle"
)

var (
	ErrOracleFailed  = errors.New("oracle failed")
	ErrInvalidChoice = errors.New("oracle chose an option that is not a candidate")
)

// Situation is the part of the battle an oracle is told about.
type Situation struct {
	BattleID  string
	Round     int
	Character battle.CharacterState
	Allies    []battle.CharacterState
	Enemies   []battle.CharacterState
}

// ChoiceRequest asks for the action a rebelling character takes instead of
// the coach's order.
type ChoiceRequest struct {
	Situation  Situation
	Order      battle.CoachOrder
	Candidates []battle.Option
}

// Choice is a rebellion decision. OptionID is always one of the request's
// candidates.
type Choice struct {
	OptionID      string `json:"chosen_option"`
	Declaration   string `json:"declaration"`
	RebellionType string `json:"rebellion_type"`
}

// Chooser picks a rebellion option.
type Chooser interface {
	ChooseRebellion(ctx context.Context, req ChoiceRequest) (*Choice, error)
}

// DeclarationRequest asks for the in-character line spoken when following an
// order.
type DeclarationRequest struct {
	Situation Situation
	Order     battle.CoachOrder
}

// Narrator produces pass declarations.
type Narrator interface {
	Declare(ctx context.Context, req DeclarationRequest) (string, error)
}

// RulingRequest describes a rebellion for the judge.
type RulingRequest struct {
	Situation     Situation
	JudgeID       string
	Order         battle.CoachOrder
	Chosen        battle.Option
	Declaration   string
	RebellionType string
}

// MechanicalEffects are the judge's concrete consequences.
type MechanicalEffects struct {
	PointsChange int      `json:"points_change"`
	Debuffs      []string `json:"debuffs"`
}

// Ruling is the judge's verdict on a rebellion.
type Ruling struct {
	Verdict    string            `json:"verdict"`
	Commentary string            `json:"commentary"`
	Effects    MechanicalEffects `json:"mechanical_effects"`
}

// Judge rules on rebellions.
type Judge interface {
	Rule(ctx context.Context, req RulingRequest) (*Ruling, error)
}

// Verdicts a judge may return.
var verdicts = map[string]bool{
	"approved":           true,
	"tolerated":          true,
	"penalized":          true,
	"severely_penalized": true,
}

// ValidateChoice checks that c names one of the candidates and normalizes
// its rebellion type, deriving one when the oracle's answer is unknown.
func ValidateChoice(c *Choice, req ChoiceRequest) (battle.Option, error) {
	if c == nil {
		return battle.Option{}, fmt.Errorf("%w: empty choice", ErrOracleFailed)
	}
	opt, ok := battle.FindOption(req.Candidates, c.OptionID)
	if !ok {
		return battle.Option{}, fmt.Errorf("%w: %q", ErrInvalidChoice, c.OptionID)
	}
	switch c.RebellionType {
	case model.RebellionDifferentTarget, model.RebellionDifferentAction, model.RebellionSelfPreserve:
	default:
		c.RebellionType = DeriveRebellionType(req.Order, opt)
	}
	return opt, nil
}

// DeriveRebellionType classifies a rebellion from what was ordered and what
// was done. Refusals are produced by the turn engine, never derived.
func DeriveRebellionType(order battle.CoachOrder, chosen battle.Option) string {
	switch {
	case chosen.Type == battle.ActionDefend:
		return model.RebellionSelfPreserve
	case chosen.Type == battle.ActionMove && order.ActionType != battle.ActionMove:
		return model.RebellionSelfPreserve
	case chosen.Type == order.ActionType && chosen.TargetID != order.TargetID:
		return model.RebellionDifferentTarget
	default:
		return model.RebellionDifferentAction
	}
}

// TemplateDeclaration is the terse line used when no narrator answers.
func TemplateDeclaration(order battle.CoachOrder) string {
	switch order.ActionType {
	case battle.ActionAttack:
		return "Going in. " + order.TargetID + " won't know what hit them."
	case battle.ActionDefend:
		return "Holding the line, coach."
	case battle.ActionMove:
		return "Repositioning."
	case battle.ActionEndTurn:
		return "Waiting for my moment."
	default:
		return "On it, coach."
	}
}

// TemplateNarrator declares without an oracle.
type TemplateNarrator struct{}

func (TemplateNarrator) Declare(_ context.Context, req DeclarationRequest) (string, error) {
	return TemplateDeclaration(req.Order), nil
}

func (s Situation) living() (allies, enemies int) {
	for _, c := range s.Allies {
		if c.Alive {
			allies++
		}
	}
	for _, c := range s.Enemies {
		if c.Alive {
			enemies++
		}
	}
	return allies, enemies
}
