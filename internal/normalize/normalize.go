// Package normalize corrects misspelled lookup values (cities, coins,
// countries) with a language model before a step is invoked.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/llm"
	"github.com/rahul/taskpilot/internal/plan"
)

// Hint tells the model what kind of value it is correcting.
type Hint string

const (
	HintCity    Hint = "city"
	HintCrypto  Hint = "crypto"
	HintTech    Hint = "tech"
	HintGeneral Hint = "general"
)

var hintGuidance = map[Hint]string{
	HintCity:    "This is a city name. Correct to standard city spelling (e.g., 'Bengalore' -> 'Bangalore', 'Londn' -> 'London').",
	HintCrypto:  "This is a cryptocurrency name. Correct to standard CoinGecko ID format (e.g., 'btc' -> 'bitcoin', 'btcoin' -> 'bitcoin').",
	HintTech:    "This is a tech term. Normalize to standard form (e.g., 'reactjs' -> 'react', 'nodejs' -> 'node').",
	HintGeneral: "This could be any type of query. Correct typos and variations based on common patterns.",
}

const systemPrompt = `You correct misspelled or non-standard lookup values to their commonly recognized form.

Context: %s

Rules:
1. If the input is valid but misspelled, return the standard spelling or format.
2. If the input is gibberish or random characters, return it unchanged.
3. Reply with ONLY a JSON object: {"corrected": "<value>", "note": "<short explanation>" or null}.

Examples:
- "Bengalore" -> {"corrected": "Bangalore", "note": "Corrected 'Bengalore' to 'Bangalore'"}
- "btc" -> {"corrected": "bitcoin", "note": "Corrected 'btc' to 'bitcoin'"}
- "XyzAbc123City" -> {"corrected": "XyzAbc123City", "note": null}
- "Tokyo" -> {"corrected": "Tokyo", "note": null}`

// field is one correctable parameter of a tool.
type field struct {
	param string
	hint  Hint
	// actions limits the field to some actions; empty means all.
	actions []string
}

// defaultFields lists the parameters corrected per tool.
var defaultFields = map[string][]field{
	"weather":   {{param: "city", hint: HintCity}},
	"crypto":    {{param: "coin_id", hint: HintCrypto}, {param: "coin", hint: HintCrypto}},
	"countries": {{param: "name", hint: HintGeneral, actions: []string{"get_country_by_name", "by_name", "country"}}},
}

// LLMNormalizer is an engine.Preprocessor backed by a language model.
type LLMNormalizer struct {
	model  llms.Model
	logger *slog.Logger
	fields map[string][]field
}

func NewLLMNormalizer(model llms.Model, logger *slog.Logger) *LLMNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMNormalizer{model: model, logger: logger, fields: defaultFields}
}

// Preprocess corrects the known lookup params of step. It returns nil params
// when nothing changed. A model failure is only reported when no field could
// be corrected.
func (n *LLMNormalizer) Preprocess(ctx context.Context, step plan.Step, params map[string]any) (map[string]any, []string, error) {
	var (
		out      map[string]any
		notes    []string
		firstErr error
	)
	for _, f := range n.fields[step.Tool] {
		if !f.appliesTo(step.Action) {
			continue
		}
		value, ok := params[f.param].(string)
		if !ok || value == "" {
			continue
		}
		corrected, note, err := n.Correct(ctx, value, f.hint)
		if err != nil {
			n.logger.Warn("query correction failed, using original",
				"step", step.ID, "param", f.param, "value", value, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if corrected == value {
			continue
		}
		if out == nil {
			out = maps.Clone(params)
		}
		out[f.param] = corrected
		notes = append(notes, note)
	}
	if out == nil && firstErr != nil {
		return nil, nil, firstErr
	}
	return out, notes, nil
}

func (f field) appliesTo(action string) bool {
	if len(f.actions) == 0 {
		return true
	}
	for _, a := range f.actions {
		if a == action {
			return true
		}
	}
	return false
}

// Correct asks the model for the standard form of query. It returns the
// input unchanged, with an empty note, when the value looks like gibberish
// or the model agrees with it.
func (n *LLMNormalizer) Correct(ctx context.Context, query string, hint Hint) (string, string, error) {
	query = strings.TrimSpace(query)
	minLength := 3
	if hint == HintCrypto {
		minLength = 2
	}
	if IsLikelyInvalid(query, minLength) {
		return query, "", nil
	}

	guidance, ok := hintGuidance[hint]
	if !ok {
		guidance = hintGuidance[HintGeneral]
	}
	choice, err := llm.Complete(ctx, n.model,
		fmt.Sprintf(systemPrompt, guidance),
		"Correct this query if it's misspelled or non-standard: "+query,
		llms.WithTemperature(0.1),
		llms.WithMaxTokens(150),
		llms.WithJSONMode(),
	)
	if err != nil {
		return query, "", err
	}

	raw, err := llm.ExtractJSON(choice.Content)
	if err != nil {
		return query, "", err
	}
	var reply struct {
		Corrected string  `json:"corrected"`
		Note      *string `json:"note"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return query, "", fmt.Errorf("decode correction: %w", err)
	}

	corrected := strings.TrimSpace(reply.Corrected)
	if corrected == "" || strings.EqualFold(corrected, query) {
		return query, "", nil
	}
	note := fmt.Sprintf("Corrected '%s' to '%s'", query, corrected)
	if reply.Note != nil && strings.TrimSpace(*reply.Note) != "" {
		note = strings.TrimSpace(*reply.Note)
	}
	return corrected, note, nil
}

// IsLikelyInvalid is a cheap check for values not worth a model call: too
// short, mostly symbols, or short letter/digit mixes like "xyz12".
func IsLikelyInvalid(query string, minLength int) bool {
	q := strings.TrimSpace(query)
	if len(q) < minLength {
		return true
	}

	var digits, letters, alnum int
	for _, r := range q {
		switch {
		case unicode.IsDigit(r):
			digits++
			alnum++
		case unicode.IsLetter(r):
			letters++
			alnum++
		}
	}

	lower := strings.ToLower(q)
	if len(q) < 8 && digits > 0 && letters > 0 &&
		(strings.Contains(lower, "xyz") || strings.Contains(lower, "abc")) {
		return true
	}
	return alnum < minLength
}

// ErrorReason explains why a lookup for query failed, for user-facing notes.
func ErrorReason(tool, query, errMsg string) string {
	switch tool {
	case "weather":
		if IsLikelyInvalid(query, 3) {
			return fmt.Sprintf("No weather data found for '%s'. Reason: the city name appears to be invalid or contains random characters. "+
				"Please provide a valid city name (e.g., 'London', 'New York', 'Tokyo').", query)
		}
		return fmt.Sprintf("No weather data found for '%s'. Reason: the city name may be misspelled or missing from the weather database. "+
			"Please check the spelling and try again.", query)
	case "crypto":
		if IsLikelyInvalid(query, 2) {
			return fmt.Sprintf("Cryptocurrency '%s' not found. Reason: the coin name appears to be invalid. "+
				"Please provide a valid cryptocurrency name (e.g., 'bitcoin', 'ethereum', 'cardano').", query)
		}
		return fmt.Sprintf("Cryptocurrency '%s' not found. Reason: the coin name may be misspelled or not supported. "+
			"Common examples: 'bitcoin', 'ethereum', 'btc' -> 'bitcoin'.", query)
	case "github":
		return fmt.Sprintf("Repository search for '%s' returned no results. Reason: the query may be too specific or the repositories don't exist. "+
			"Try a broader search term or check the spelling.", query)
	}
	return "Error: " + errMsg
}

var _ engine.Preprocessor = (*LLMNormalizer)(nil)
