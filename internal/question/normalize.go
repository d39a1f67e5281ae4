// Package question normalizes the backend's shape-unstable questionnaire
// payloads into a typed model and drives the one-question-at-a-time flow of
// an interview.
//
// The question endpoint is backed by a third-party form builder whose export
// format has changed between surveys. Rather than probing the payload with
// nested conditionals, [Normalize] runs an ordered list of named recognition
// rules and returns a tagged result: a recognized question list, or
// unrecognized. An unrecognized payload is not an error — the session
// degrades to zero questions and completes on audio and location alone.
package question

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// Type classifies how a question is answered.
type Type string

const (
	// TypeText is a free-text answer.
	TypeText Type = "text"

	// TypeChoice is a single selection from Options.
	TypeChoice Type = "choice"

	// TypeYesNo is a boolean answer.
	TypeYesNo Type = "yesno"
)

// Question is one normalized questionnaire item.
type Question struct {
	ID       string
	Prompt   string
	Type     Type
	Options  []string
	Required bool
}

// rule is one named payload-shape recognizer. It returns the normalized
// questions and whether the payload matched the shape.
type rule struct {
	name      string
	recognize func(raw json.RawMessage) ([]Question, bool)
}

// rules are tried in order; the first match wins. Most specific first.
var rules = []rule{
	{"bare-array", recognizeBareArray},
	{"questions-envelope", recognizeQuestionsEnvelope},
	{"form-data-fields", recognizeFormDataFields},
	{"fields-envelope", recognizeFieldsEnvelope},
}

// Normalize converts a raw question payload into the typed model.
// The boolean reports whether any recognition rule matched; when it is
// false the returned slice is nil and the caller proceeds with an empty
// questionnaire.
func Normalize(raw json.RawMessage) ([]Question, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	for _, r := range rules {
		if qs, ok := r.recognize(raw); ok {
			slog.Debug("question payload recognized", "rule", r.name, "count", len(qs))
			return qs, true
		}
	}
	slog.Warn("question payload not recognized; continuing without questionnaire",
		"size", len(raw))
	return nil, false
}

// rawQuestion accepts every field spelling observed across payload shapes.
type rawQuestion struct {
	ID       json.RawMessage `json:"id"`
	Key      string          `json:"key"`
	Text     string          `json:"text"`
	Label    string          `json:"label"`
	Title    string          `json:"title"`
	Question string          `json:"question"`
	Type     string          `json:"type"`
	Required bool            `json:"required"`
	Options  json.RawMessage `json:"options"`
	Choices  json.RawMessage `json:"choices"`
}

// ── recognition rules ─────────────────────────────────────────────────────────

// recognizeBareArray handles the native backend shape: a top-level array of
// question objects.
func recognizeBareArray(raw json.RawMessage) ([]Question, bool) {
	var items []rawQuestion
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, false
	}
	return convert(items)
}

// recognizeQuestionsEnvelope handles {"questions": [...]}.
func recognizeQuestionsEnvelope(raw json.RawMessage) ([]Question, bool) {
	var env struct {
		Questions []rawQuestion `json:"questions"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Questions == nil {
		return nil, false
	}
	return convert(env.Questions)
}

// recognizeFormDataFields handles the third-party form export:
// {"data": {"fields": [...]}}.
func recognizeFormDataFields(raw json.RawMessage) ([]Question, bool) {
	var env struct {
		Data struct {
			Fields []rawQuestion `json:"fields"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Data.Fields == nil {
		return nil, false
	}
	return convert(env.Data.Fields)
}

// recognizeFieldsEnvelope handles {"fields": [...]}.
func recognizeFieldsEnvelope(raw json.RawMessage) ([]Question, bool) {
	var env struct {
		Fields []rawQuestion `json:"fields"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Fields == nil {
		return nil, false
	}
	return convert(env.Fields)
}

// ── conversion ────────────────────────────────────────────────────────────────

// convert maps raw items into Questions. A shape only counts as recognized
// when every item yields a usable prompt; half-parsed questionnaires would
// silently lose questions otherwise.
func convert(items []rawQuestion) ([]Question, bool) {
	qs := make([]Question, 0, len(items))
	for i, it := range items {
		q := Question{
			ID:       itemID(it, i),
			Prompt:   firstNonEmpty(it.Text, it.Label, it.Title, it.Question),
			Type:     mapType(it.Type),
			Required: it.Required,
		}
		if q.Prompt == "" {
			return nil, false
		}
		if q.Type == TypeChoice {
			q.Options = parseOptions(it.Options, it.Choices)
		}
		qs = append(qs, q)
	}
	return qs, true
}

// itemID extracts a stable string id, falling back to the positional index.
func itemID(it rawQuestion, idx int) string {
	if len(it.ID) > 0 {
		var s string
		if err := json.Unmarshal(it.ID, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(it.ID, &n); err == nil {
			return n.String()
		}
	}
	if it.Key != "" {
		return it.Key
	}
	return "q" + strconv.Itoa(idx+1)
}

// mapType folds the observed type spellings into the internal taxonomy.
// Unknown types degrade to free text, which can express any answer.
func mapType(t string) Type {
	switch strings.ToLower(t) {
	case "radio", "select", "dropdown", "single_choice", "single-choice", "multiple_choice", "choice":
		return TypeChoice
	case "yesno", "yes_no", "boolean", "checkbox":
		return TypeYesNo
	default:
		return TypeText
	}
}

// parseOptions accepts both plain-string lists and object lists with
// text/label/value fields.
func parseOptions(candidates ...json.RawMessage) []string {
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		var plain []string
		if err := json.Unmarshal(raw, &plain); err == nil && len(plain) > 0 {
			return plain
		}
		var objs []struct {
			Text  string `json:"text"`
			Label string `json:"label"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 {
			out := make([]string, 0, len(objs))
			for _, o := range objs {
				if v := firstNonEmpty(o.Text, o.Label, o.Value); v != "" {
					out = append(out, v)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
