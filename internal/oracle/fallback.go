package oracle

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/pkg/battle"
)

// FallbackChooser asks Primary first and Secondary when Primary fails for
// any reason other than a timeout. Timeouts abort the turn so the caller can
// retry; they are never masked.
type FallbackChooser struct {
	Primary   Chooser
	Secondary Chooser
}

func (f FallbackChooser) ChooseRebellion(ctx context.Context, req ChoiceRequest) (*Choice, error) {
	c, err := f.Primary.ChooseRebellion(ctx, req)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, battle.ErrOracleTimeout) || f.Secondary == nil {
		return nil, err
	}
	log.Warn().Err(err).Str("battleId", req.Situation.BattleID).
		Str("characterId", req.Situation.Character.ID).Msg("Rebellion oracle failed, using fallback chooser")
	return f.Secondary.ChooseRebellion(ctx, req)
}

// FallbackNarrator replaces a failed or empty narration with the template
// line. Timeouts are passed through so the turn aborts.
type FallbackNarrator struct {
	Primary Narrator
}

func (f FallbackNarrator) Declare(ctx context.Context, req DeclarationRequest) (string, error) {
	if f.Primary == nil {
		return TemplateDeclaration(req.Order), nil
	}
	line, err := f.Primary.Declare(ctx, req)
	if errors.Is(err, battle.ErrOracleTimeout) {
		return "", err
	}
	if err != nil || line == "" {
		log.Warn().Err(err).Str("battleId", req.Situation.BattleID).Msg("Narrator failed, using template declaration")
		return TemplateDeclaration(req.Order), nil
	}
	return line, nil
}
