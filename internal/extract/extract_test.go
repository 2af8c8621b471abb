package extract

import (
	"context"
	"errors"
	"testing"

	"equitable/internal/llm"
	"equitable/internal/model"
)

type fakeClient struct {
	fields map[string]any
	err    error
	calls  int
	lastIn llm.ExtractRequest
}

func (f *fakeClient) ExtractFields(ctx context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
	f.calls++
	f.lastIn = req
	if f.err != nil {
		return llm.ExtractResult{}, f.err
	}
	return llm.ExtractResult{Fields: f.fields}, nil
}

func TestExtractMapsFields(t *testing.T) {
	client := &fakeClient{fields: map[string]any{
		"status":            "OPEN",
		"hours_notes":       "Tue 9-12, Thu 1-4",
		"hours_today":       "9am-12pm",
		"eligibility_rules": []any{"County residents only"},
		"is_id_required":    true,
		"residency_req":     "Lane County",
		"special_notes":     nil,
		"confidence":        float64(8),
	}}

	e := New(client, "openai", "gpt-test", 1000, nil)
	update, err := e.Extract(context.Background(), "https://pantry.example.org", "## Source: x\n\nhours...")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if update.Status != model.StatusOpen {
		t.Fatalf("expected OPEN status, got %s", update.Status)
	}
	if update.HoursNotes != "Tue 9-12, Thu 1-4" {
		t.Fatalf("unexpected hours_notes: %q", update.HoursNotes)
	}
	if len(update.EligibilityRules) != 1 || update.EligibilityRules[0] != "County residents only" {
		t.Fatalf("unexpected eligibility rules: %v", update.EligibilityRules)
	}
	if update.IsIDRequired == nil || !*update.IsIDRequired {
		t.Fatal("expected is_id_required true")
	}
	if update.Confidence == nil || *update.Confidence != 8 {
		t.Fatalf("expected confidence 8, got %v", update.Confidence)
	}
	if client.lastIn.Prompt == "" {
		t.Fatal("expected a dated prompt to be sent")
	}
}

func TestExtractLLMError(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream 500")}
	e := New(client, "openai", "gpt-test", 1000, nil)

	_, err := e.Extract(context.Background(), "https://pantry.example.org", "content")
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Kind != FailLLMError {
		t.Fatalf("expected llm_error, got %s", f.Kind)
	}
}

func TestExtractInvalidJSON(t *testing.T) {
	client := &fakeClient{fields: map[string]any{"_raw": "I could not find a pantry here"}}
	e := New(client, "openai", "gpt-test", 1000, nil)

	_, err := e.Extract(context.Background(), "https://pantry.example.org", "content")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailInvalidJSON {
		t.Fatalf("expected invalid_json failure, got %v", err)
	}
}

func TestExtractEmptyMarkdown(t *testing.T) {
	client := &fakeClient{}
	e := New(client, "openai", "gpt-test", 1000, nil)

	_, err := e.Extract(context.Background(), "https://pantry.example.org", "")
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailEmptyResponse {
		t.Fatalf("expected empty_response failure, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no LLM call for empty markdown, got %d", client.calls)
	}
}
