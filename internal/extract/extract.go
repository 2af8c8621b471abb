package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"equitable/internal/llm"
	"equitable/internal/metrics"
	"equitable/internal/model"
)

// FailureKind classifies why extraction produced no usable update.
type FailureKind string

const (
	FailLLMError      FailureKind = "llm_error"
	FailInvalidJSON   FailureKind = "invalid_json"
	FailEmptyResponse FailureKind = "empty_response"
)

// Failure is returned when the model could not produce a pantry update.
type Failure struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", f.URL, f.Kind, f.Err)
	}
	return fmt.Sprintf("extract %s: %s", f.URL, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// pantryFields are the field definitions sent to the model. The names
// match the JSON tags on model.PantryUpdate.
var pantryFields = []llm.FieldSpec{
	{Name: "status", Type: "string", Description: "Operational status: OPEN, CLOSED, WAITLIST or UNKNOWN"},
	{Name: "hours_notes", Type: "string", Description: "Full operating hours as written on the site"},
	{Name: "hours_today", Type: "string", Description: "Hours for today specifically, or 'Closed today'"},
	{Name: "eligibility_rules", Type: "array of strings", Description: "Who may receive food, one rule per entry"},
	{Name: "is_id_required", Type: "boolean", Description: "Whether any form of ID or documentation is required"},
	{Name: "residency_req", Type: "string or null", Description: "Residency requirement such as a county or zip code, null if none"},
	{Name: "special_notes", Type: "string or null", Description: "Anything else visitors should know, null if nothing"},
	{Name: "confidence", Type: "integer 1-10", Description: "How confident you are that the page describes this pantry's current operations"},
}

// lowConfidence marks extractions worth flagging in the logs.
const lowConfidence = 4

// Extractor turns scraped site markdown into a pantry update via an
// LLM. It is stateless and safe for concurrent use.
type Extractor struct {
	client   llm.Client
	provider string
	model    string
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func New(client llm.Client, provider, model string, timeoutMs int, log *slog.Logger) *Extractor {
	timeout := 45 * time.Second
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		client:   client,
		provider: provider,
		model:    model,
		timeout:  timeout,
		now:      time.Now,
		log:      log,
	}
}

func (e *Extractor) prompt() string {
	today := e.now().Format("Monday, January 2, 2006")
	return fmt.Sprintf("Today is %s. The markdown below was scraped from a food pantry's website. "+
		"Extract the pantry's current operating details. Use null for anything the page does not state. "+
		"When computing hours_today, use today's weekday.", today)
}

// Extract sends the markdown to the model and maps the response onto a
// PantryUpdate. The context bounds the whole call.
func (e *Extractor) Extract(ctx context.Context, sourceURL, markdown string) (*model.PantryUpdate, error) {
	if len(markdown) == 0 {
		return nil, &Failure{Kind: FailEmptyResponse, URL: sourceURL}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.client.ExtractFields(ctx, llm.ExtractRequest{
		URL:      sourceURL,
		Markdown: markdown,
		Fields:   pantryFields,
		Prompt:   e.prompt(),
	})
	if err != nil {
		metrics.RecordLLMExtract(e.provider, e.model, false)
		return nil, &Failure{Kind: FailLLMError, URL: sourceURL, Err: err}
	}

	if len(res.Fields) == 0 {
		metrics.RecordLLMExtract(e.provider, e.model, false)
		return nil, &Failure{Kind: FailEmptyResponse, URL: sourceURL}
	}
	if _, raw := res.Fields["_raw"]; raw && len(res.Fields) == 1 {
		metrics.RecordLLMExtract(e.provider, e.model, false)
		return nil, &Failure{Kind: FailInvalidJSON, URL: sourceURL}
	}

	update, err := mapUpdate(res.Fields)
	if err != nil {
		metrics.RecordLLMExtract(e.provider, e.model, false)
		return nil, &Failure{Kind: FailInvalidJSON, URL: sourceURL, Err: err}
	}

	metrics.RecordLLMExtract(e.provider, e.model, true)

	if update.Confidence != nil && *update.Confidence <= lowConfidence {
		e.log.Warn("low confidence extraction",
			"url", sourceURL,
			"confidence", *update.Confidence)
	}

	return update, nil
}

// mapUpdate converts the loose field map into a typed update by going
// through JSON, which tolerates missing and extra keys.
func mapUpdate(fields map[string]any) (*model.PantryUpdate, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var update model.PantryUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, err
	}
	return &update, nil
}
