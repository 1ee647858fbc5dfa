package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/platform/openai"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

var (
	ErrPromptTooLarge    = errors.New("generation prompt exceeds size ceiling")
	ErrGenerateTimeout   = errors.New("generation timed out")
	ErrForbiddenModel    = errors.New("generation model is forbidden")
	ErrGenerationFailure = errors.New("generation failed")
)

// Prompt types select the model tier. Syllabus layout needs the strongest
// reasoning; question drilling runs on the cheap tier.
const (
	PromptTypeSyllabus  = "syllabus"
	PromptTypeChapter   = "chapter_expansion"
	PromptTypeNotes     = "notes"
	PromptTypeQuestions = "questions"
	PromptTypeTests     = "tests"
)

// ModelPrice is USD per million tokens, split by direction the way provider
// price sheets quote it.
type ModelPrice struct {
	PromptUSD     float64
	CompletionUSD float64
}

type GenerationConfig struct {
	SmallModel      string
	MediumModel     string
	LargeModel      string
	ForbiddenModels map[string]bool
	MaxPromptChars  int
	CallTimeout     time.Duration
	Pricing         map[string]ModelPrice
}

func GenerationConfigFromEnv() GenerationConfig {
	forbidden := map[string]bool{}
	for _, m := range strings.Split(envutil.String("GEN_FORBIDDEN_MODELS", ""), ",") {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			forbidden[m] = true
		}
	}
	small := envutil.String("GEN_MODEL_SMALL", "gpt-4o-mini")
	medium := envutil.String("GEN_MODEL_MEDIUM", "gpt-4o")
	large := envutil.String("GEN_MODEL_LARGE", "gpt-4.1")
	return GenerationConfig{
		SmallModel:      small,
		MediumModel:     medium,
		LargeModel:      large,
		ForbiddenModels: forbidden,
		MaxPromptChars:  envutil.Int("GEN_MAX_PROMPT_CHARS", 48000),
		CallTimeout:     envutil.Duration("GEN_CALL_TIMEOUT", 3*time.Minute),
		Pricing: map[string]ModelPrice{
			strings.ToLower(small): {
				PromptUSD:     envutil.Float("GEN_PRICE_SMALL_PROMPT", 0.15),
				CompletionUSD: envutil.Float("GEN_PRICE_SMALL_COMPLETION", 0.60),
			},
			strings.ToLower(medium): {
				PromptUSD:     envutil.Float("GEN_PRICE_MEDIUM_PROMPT", 2.50),
				CompletionUSD: envutil.Float("GEN_PRICE_MEDIUM_COMPLETION", 10.00),
			},
			strings.ToLower(large): {
				PromptUSD:     envutil.Float("GEN_PRICE_LARGE_PROMPT", 2.00),
				CompletionUSD: envutil.Float("GEN_PRICE_LARGE_COMPLETION", 8.00),
			},
		},
	}
}

// GenerationService fronts the model API for the pipeline handlers: it picks
// the tier for the prompt type, enforces the prompt ceiling and per-call
// timeout, and records one ai_call_log row per call, success or failure.
type GenerationService struct {
	log    *logger.Logger
	client openai.Client
	calls  repos.AICallLogRepo
	cfg    GenerationConfig
}

func NewGenerationService(baseLog *logger.Logger, client openai.Client, calls repos.AICallLogRepo, cfg GenerationConfig) *GenerationService {
	return &GenerationService{
		log:    baseLog.With("service", "GenerationService"),
		client: client,
		calls:  calls,
		cfg:    cfg,
	}
}

func (g *GenerationService) modelFor(promptType string) string {
	switch promptType {
	case PromptTypeSyllabus:
		return g.cfg.LargeModel
	case PromptTypeChapter, PromptTypeNotes:
		return g.cfg.MediumModel
	default:
		return g.cfg.SmallModel
	}
}

// GenerateJSON runs one structured generation call and unmarshals the result
// into out.
func (g *GenerationService) GenerateJSON(ctx context.Context, jobID *uuid.UUID, promptType, system, user, schemaName string, schema map[string]any, out any) error {
	model := g.modelFor(promptType)
	if g.cfg.ForbiddenModels[strings.ToLower(model)] {
		return fmt.Errorf("%w: %s", ErrForbiddenModel, model)
	}
	promptChars := len(system) + len(user)
	if g.cfg.MaxPromptChars > 0 && promptChars > g.cfg.MaxPromptChars {
		return fmt.Errorf("%w: %d chars (limit %d)", ErrPromptTooLarge, promptChars, g.cfg.MaxPromptChars)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if g.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, usage, err := g.client.GenerateJSON(callCtx, model, system, user, schemaName, schema)
	latency := time.Since(start)

	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s", ErrGenerateTimeout, g.cfg.CallTimeout)
	}

	g.record(ctx, jobID, promptType, model, promptChars, len(raw), usage, latency, err)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGenerationFailure, promptType, err)
	}
	if out != nil {
		if uErr := json.Unmarshal(raw, out); uErr != nil {
			return fmt.Errorf("%w: %s: decode payload: %v", ErrGenerationFailure, promptType, uErr)
		}
	}
	return nil
}

// costFor prices a call from the per-model table; unknown models cost zero
// rather than guessing.
func (g *GenerationService) costFor(model string, usage openai.Usage) float64 {
	price, ok := g.cfg.Pricing[strings.ToLower(model)]
	if !ok {
		return 0
	}
	return (float64(usage.PromptTokens)*price.PromptUSD +
		float64(usage.CompletionTokens)*price.CompletionUSD) / 1e6
}

func (g *GenerationService) record(ctx context.Context, jobID *uuid.UUID, promptType, model string, promptChars, completionChars int, usage openai.Usage, latency time.Duration, callErr error) {
	row := &types.AICallLog{
		ID:              uuid.New(),
		JobID:           jobID,
		PromptType:      promptType,
		Model:           model,
		PromptChars:     promptChars,
		CompletionChars: completionChars,
		TotalTokens:     usage.TotalTokens,
		CostUSD:         g.costFor(model, usage),
		LatencyMS:       latency.Milliseconds(),
	}
	if callErr != nil {
		row.Error = callErr.Error()
	}
	if err := g.calls.Append(ctx, nil, row); err != nil {
		g.log.Warn("AI call log append failed", "prompt_type", promptType, "error", err)
	}
}
