package question_test

import (
	"encoding/json"
	"testing"

	"github.com/ilxomkh/survey/internal/question"
)

func TestNormalize_BareArray(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`[
		{"id": 1, "text": "How many people live in your household?", "type": "text", "required": true},
		{"id": 2, "text": "Do you own this dwelling?", "type": "yesno"}
	]`)

	qs, ok := question.Normalize(raw)
	if !ok {
		t.Fatal("payload should be recognized")
	}
	if len(qs) != 2 {
		t.Fatalf("len = %d, want 2", len(qs))
	}
	if qs[0].ID != "1" || !qs[0].Required || qs[0].Type != question.TypeText {
		t.Errorf("first question = %+v", qs[0])
	}
	if qs[1].Type != question.TypeYesNo || qs[1].Required {
		t.Errorf("second question = %+v", qs[1])
	}
}

func TestNormalize_QuestionsEnvelope(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"questions":[
		{"id": "income", "label": "Monthly income bracket", "type": "select",
		 "options": ["< 1M", "1M–5M", "> 5M"], "required": true}
	]}`)

	qs, ok := question.Normalize(raw)
	if !ok {
		t.Fatal("payload should be recognized")
	}
	if len(qs) != 1 {
		t.Fatalf("len = %d, want 1", len(qs))
	}
	q := qs[0]
	if q.ID != "income" || q.Type != question.TypeChoice {
		t.Errorf("question = %+v", q)
	}
	if len(q.Options) != 3 || q.Options[1] != "1M–5M" {
		t.Errorf("options = %v", q.Options)
	}
}

func TestNormalize_FormDataFields(t *testing.T) {
	t.Parallel()

	// Third-party form export: fields under data, object-shaped options.
	raw := json.RawMessage(`{"data":{"fields":[
		{"key": "q_head", "title": "Who is the head of the household?", "type": "INPUT_TEXT"},
		{"key": "q_fuel", "title": "Primary cooking fuel", "type": "MULTIPLE_CHOICE",
		 "options": [{"id":"a","text":"Gas"},{"id":"b","text":"Electricity"},{"id":"c","text":"Wood"}]}
	]}}`)

	qs, ok := question.Normalize(raw)
	if !ok {
		t.Fatal("payload should be recognized")
	}
	if len(qs) != 2 {
		t.Fatalf("len = %d, want 2", len(qs))
	}
	if qs[0].ID != "q_head" || qs[0].Type != question.TypeText {
		t.Errorf("first = %+v", qs[0])
	}
	if qs[1].Type != question.TypeChoice || len(qs[1].Options) != 3 || qs[1].Options[2] != "Wood" {
		t.Errorf("second = %+v", qs[1])
	}
}

func TestNormalize_FieldsEnvelope(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`{"fields":[{"id":"f1","label":"Comments","type":"textarea"}]}`)
	qs, ok := question.Normalize(raw)
	if !ok || len(qs) != 1 {
		t.Fatalf("ok=%v len=%d, want recognized single question", ok, len(qs))
	}
	if qs[0].Type != question.TypeText {
		t.Errorf("type = %q, want text", qs[0].Type)
	}
}

func TestNormalize_UnrecognizedDegradesToNothing(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":          ``,
		"null":           `null`,
		"scalar":         `42`,
		"string-array":   `["what","is","this"]`,
		"foreign-object": `{"version":3,"pages":[{"blocks":[]}]}`,
		"missing-prompt": `[{"id":1,"type":"text"}]`,
	}
	for name, raw := range cases {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			qs, ok := question.Normalize(json.RawMessage(raw))
			if ok {
				t.Errorf("payload %q unexpectedly recognized: %+v", raw, qs)
			}
			if qs != nil {
				t.Errorf("unrecognized payload must yield nil questions, got %+v", qs)
			}
		})
	}
}

func TestNormalize_NumericAndMissingIDs(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`[
		{"id": 17, "text": "A"},
		{"text": "B"}
	]`)
	qs, ok := question.Normalize(raw)
	if !ok {
		t.Fatal("payload should be recognized")
	}
	if qs[0].ID != "17" {
		t.Errorf("numeric id = %q, want \"17\"", qs[0].ID)
	}
	if qs[1].ID != "q2" {
		t.Errorf("fallback id = %q, want \"q2\"", qs[1].ID)
	}
}
