package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/openai"
	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type fakeAIClient struct {
	mu        sync.Mutex
	lastModel string
	response  json.RawMessage
	err       error
}

func (f *fakeAIClient) GenerateJSON(_ context.Context, model, _, _, _ string, _ map[string]any) (json.RawMessage, openai.Usage, error) {
	f.mu.Lock()
	f.lastModel = model
	f.mu.Unlock()
	if f.err != nil {
		return nil, openai.Usage{}, f.err
	}
	return f.response, openai.Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42}, nil
}

func (f *fakeAIClient) GenerateText(_ context.Context, model, _, _ string) (string, openai.Usage, error) {
	return string(f.response), openai.Usage{}, f.err
}

type fakeCallLog struct {
	mu   sync.Mutex
	rows []*types.AICallLog
}

func (f *fakeCallLog) Append(_ context.Context, _ *gorm.DB, row *types.AICallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeCallLog) all() []*types.AICallLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.AICallLog(nil), f.rows...)
}

func genConfig() services.GenerationConfig {
	return services.GenerationConfig{
		SmallModel:     "small-model",
		MediumModel:    "medium-model",
		LargeModel:     "large-model",
		MaxPromptChars: 1000,
		CallTimeout:    time.Second,
		Pricing: map[string]services.ModelPrice{
			"small-model": {PromptUSD: 0.15, CompletionUSD: 0.60},
			"large-model": {PromptUSD: 2.00, CompletionUSD: 8.00},
		},
	}
}

func TestGenerateJSONPicksTierAndLogsCall(t *testing.T) {
	client := &fakeAIClient{response: json.RawMessage(`{"chapters":[{"name":"Algebra"}]}`)}
	calls := &fakeCallLog{}
	g := services.NewGenerationService(testutil.Logger(t), client, calls, genConfig())

	var out struct {
		Chapters []struct {
			Name string `json:"name"`
		} `json:"chapters"`
	}
	err := g.GenerateJSON(context.Background(), nil, services.PromptTypeSyllabus, "sys", "user", "syllabus", map[string]any{}, &out)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if client.lastModel != "large-model" {
		t.Fatalf("model = %q, syllabus must use the large tier", client.lastModel)
	}
	if len(out.Chapters) != 1 || out.Chapters[0].Name != "Algebra" {
		t.Fatalf("decoded = %+v", out)
	}

	rows := calls.all()
	if len(rows) != 1 {
		t.Fatalf("call log rows = %d, want 1", len(rows))
	}
	if rows[0].TotalTokens != 42 || rows[0].Error != "" {
		t.Fatalf("row = %+v", rows[0])
	}
	// 30 prompt tokens at $2/1M plus 12 completion tokens at $8/1M
	wantCost := (30*2.00 + 12*8.00) / 1e6
	if rows[0].CostUSD != wantCost {
		t.Fatalf("cost_usd = %f, want %f", rows[0].CostUSD, wantCost)
	}

	// questions run on the small tier
	if err := g.GenerateJSON(context.Background(), nil, services.PromptTypeQuestions, "sys", "user", "q", map[string]any{}, nil); err != nil {
		t.Fatalf("generate questions: %v", err)
	}
	if client.lastModel != "small-model" {
		t.Fatalf("model = %q, questions must use the small tier", client.lastModel)
	}
}

func TestGenerateJSONRejectsOversizedPrompt(t *testing.T) {
	client := &fakeAIClient{response: json.RawMessage(`{}`)}
	calls := &fakeCallLog{}
	g := services.NewGenerationService(testutil.Logger(t), client, calls, genConfig())

	huge := strings.Repeat("x", 2000)
	err := g.GenerateJSON(context.Background(), nil, services.PromptTypeNotes, "sys", huge, "n", map[string]any{}, nil)
	if !errors.Is(err, services.ErrPromptTooLarge) {
		t.Fatalf("err = %v, want ErrPromptTooLarge", err)
	}
	// rejected before the call: no model invocation, no log row
	if client.lastModel != "" {
		t.Fatal("client must not be called for an oversized prompt")
	}
	if len(calls.all()) != 0 {
		t.Fatal("no call log row expected before the call is made")
	}
}

func TestGenerateJSONForbiddenModel(t *testing.T) {
	cfg := genConfig()
	cfg.ForbiddenModels = map[string]bool{"large-model": true}
	g := services.NewGenerationService(testutil.Logger(t), &fakeAIClient{}, &fakeCallLog{}, cfg)

	err := g.GenerateJSON(context.Background(), nil, services.PromptTypeSyllabus, "s", "u", "n", map[string]any{}, nil)
	if !errors.Is(err, services.ErrForbiddenModel) {
		t.Fatalf("err = %v, want ErrForbiddenModel", err)
	}
}

func TestGenerateJSONCallTimeout(t *testing.T) {
	client := &fakeAIClient{err: context.DeadlineExceeded}
	calls := &fakeCallLog{}
	g := services.NewGenerationService(testutil.Logger(t), client, calls, genConfig())

	err := g.GenerateJSON(context.Background(), nil, services.PromptTypeNotes, "s", "u", "n", map[string]any{}, nil)
	if !errors.Is(err, services.ErrGenerationFailure) {
		t.Fatalf("err = %v, want ErrGenerationFailure", err)
	}
	if !strings.Contains(err.Error(), "generation timed out") {
		t.Fatalf("err = %v, want the timeout surfaced", err)
	}

	// the failed call is still logged
	rows := calls.all()
	if len(rows) != 1 || rows[0].Error == "" {
		t.Fatalf("rows = %+v, want one row carrying the error", rows)
	}
}

func TestGenerateJSONFailuresAreLogged(t *testing.T) {
	client := &fakeAIClient{err: errors.New("upstream 500")}
	calls := &fakeCallLog{}
	g := services.NewGenerationService(testutil.Logger(t), client, calls, genConfig())

	err := g.GenerateJSON(context.Background(), nil, services.PromptTypeQuestions, "s", "u", "n", map[string]any{}, nil)
	if !errors.Is(err, services.ErrGenerationFailure) {
		t.Fatalf("err = %v, want ErrGenerationFailure", err)
	}
	rows := calls.all()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if !strings.Contains(rows[0].Error, "upstream 500") {
		t.Fatalf("row error = %q", rows[0].Error)
	}
}
