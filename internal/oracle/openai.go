package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/pkg/battle"
)

const backendOpenAI = "openai"

// OpenAIConfig configures the LLM-backed oracle.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI implements Chooser, Narrator and Judge with JSON-mode chat
// completions.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI creates an OpenAI oracle. An empty BaseURL keeps the library
// default.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &OpenAI{client: openai.NewClientWithConfig(c), model: model, timeout: timeout}
}

// ChooseRebellion asks the model to pick one candidate.
func (o *OpenAI) ChooseRebellion(ctx context.Context, req ChoiceRequest) (*Choice, error) {
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrOracleFailed)
	}
	var b strings.Builder
	writeSituation(&b, req.Situation)
	fmt.Fprintf(&b, "Your coach ordered: %s.\nYou are NOT following that order. Pick one of these instead:\n", req.Order.Describe())
	for _, opt := range req.Candidates {
		fmt.Fprintf(&b, "- %s: %s (%d AP)\n", opt.ID, opt.Label, opt.APCost)
	}
	b.WriteString(`Answer in JSON: {"chosen_option": "<id>", "declaration": "<one line, in character>", ` +
		`"rebellion_type": "different_target|different_action|self_preservation"}`)

	var c Choice
	if err := o.complete(ctx, "choose", b.String(), "Make your rebellion choice now.", 200, 0.8, &c); err != nil {
		return nil, err
	}
	if c.Declaration == "" {
		return nil, fmt.Errorf("%w: response missing declaration", ErrOracleFailed)
	}
	if _, err := ValidateChoice(&c, req); err != nil {
		return nil, err
	}
	return &c, nil
}

// Declare asks for a one-line pass declaration.
func (o *OpenAI) Declare(ctx context.Context, req DeclarationRequest) (string, error) {
	var b strings.Builder
	writeSituation(&b, req.Situation)
	fmt.Fprintf(&b, "Your coach ordered: %s. You are following the order.\n", req.Order.Describe())
	b.WriteString(`Answer in JSON: {"declaration": "<one line, in character>"}`)

	var out struct {
		Declaration string `json:"declaration"`
	}
	if err := o.complete(ctx, "declare", b.String(), "Speak your declaration now.", 120, 0.9, &out); err != nil {
		return "", err
	}
	if out.Declaration == "" {
		return "", fmt.Errorf("%w: response missing declaration", ErrOracleFailed)
	}
	return out.Declaration, nil
}

// Rule asks the judge persona for a verdict.
func (o *OpenAI) Rule(ctx context.Context, req RulingRequest) (*Ruling, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are judge %s presiding over battle %s, round %d.\n", req.JudgeID, req.Situation.BattleID, req.Situation.Round)
	fmt.Fprintf(&b, "%s was ordered to %s but rebelled (%s) and chose to %s.\n",
		req.Situation.Character.Name, req.Order.Describe(), req.RebellionType, req.Chosen.Label)
	fmt.Fprintf(&b, "They declared: %q\n", req.Declaration)
	b.WriteString(`Answer in JSON: {"verdict": "approved|tolerated|penalized|severely_penalized", ` +
		`"commentary": "<one or two sentences>", "mechanical_effects": {"points_change": <int>, "debuffs": []}}`)

	var r Ruling
	if err := o.complete(ctx, "judge", b.String(), "Make your ruling now.", 200, 0.6, &r); err != nil {
		return nil, err
	}
	if !verdicts[r.Verdict] {
		return nil, fmt.Errorf("%w: unknown verdict %q", ErrOracleFailed, r.Verdict)
	}
	if r.Commentary == "" {
		return nil, fmt.Errorf("%w: response missing commentary", ErrOracleFailed)
	}
	return &r, nil
}

// complete runs one JSON-mode completion and decodes it into out. A deadline
// is reported as *battle.OracleTimeoutError.
func (o *OpenAI) complete(ctx context.Context, op, system, user string, maxTokens int, temperature float32, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.ObserveOracle(op, backendOpenAI, start, err) }()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &battle.OracleTimeoutError{Op: op, Err: context.DeadlineExceeded}
		}
		return fmt.Errorf("%w: %v", ErrOracleFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return fmt.Errorf("%w: empty response", ErrOracleFailed)
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		log.Warn().Str("op", op).Str("content", content).Msg("Oracle returned malformed JSON")
		return fmt.Errorf("%w: decode response: %v", ErrOracleFailed, err)
	}
	log.Debug().Str("op", op).Int("totalTokens", resp.Usage.TotalTokens).Dur("took", time.Since(start)).Msg("Oracle call complete")
	return nil
}

func writeSituation(b *strings.Builder, s Situation) {
	c := s.Character
	fmt.Fprintf(b, "You are %s, a %s, in round %d of an arena battle.\n", c.Name, c.Archetype, s.Round)
	fmt.Fprintf(b, "Health %d/%d, mana %d/%d. Stress %d, focus %d, trust in team %d.\n",
		c.Health, c.MaxHealth, c.Mana, c.MaxMana, c.Psych.Stress, c.Psych.BattleFocus, c.Psych.TeamTrust)
	allies, enemies := s.living()
	fmt.Fprintf(b, "Teammates standing: %d. Enemies standing: %d.\n", allies, enemies)
	for _, e := range s.Enemies {
		if e.Alive {
			fmt.Fprintf(b, "Enemy %s (%s): %d/%d HP at %s.\n", e.Name, e.ID, e.Health, e.MaxHealth, e.Position)
		}
	}
}
