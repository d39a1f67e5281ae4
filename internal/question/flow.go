package question

import (
	"errors"
	"strings"
)

// ErrAnswerRequired is returned by [Flow.Next] when the current question is
// required and has no non-empty answer yet.
var ErrAnswerRequired = errors.New("question: answer required before advancing")

// Flow drives single-question-at-a-time navigation over a normalized
// questionnaire. Answers accumulate in an answer map that is read once, by
// the finalize sequence; nothing is sent incrementally.
//
// Flow is not safe for concurrent use: it is owned by the interview loop.
type Flow struct {
	questions []Question
	idx       int
	answers   map[string]string
}

// NewFlow creates a Flow over the given questions. An empty questionnaire is
// valid and is immediately done.
func NewFlow(questions []Question) *Flow {
	return &Flow{
		questions: questions,
		answers:   make(map[string]string, len(questions)),
	}
}

// Len returns the number of questions.
func (f *Flow) Len() int { return len(f.questions) }

// Index returns the zero-based position of the current question.
func (f *Flow) Index() int { return f.idx }

// Done reports whether navigation has moved past the last question.
// A zero-question flow is done from the start.
func (f *Flow) Done() bool { return f.idx >= len(f.questions) }

// Current returns the question under the cursor. ok is false when the flow
// is done.
func (f *Flow) Current() (q Question, ok bool) {
	if f.Done() {
		return Question{}, false
	}
	return f.questions[f.idx], true
}

// Answer returns the recorded answer for the current question, or "".
func (f *Flow) Answer() string {
	q, ok := f.Current()
	if !ok {
		return ""
	}
	return f.answers[q.ID]
}

// SetAnswer records an answer for the current question. Whitespace-only
// input does not satisfy a required question.
func (f *Flow) SetAnswer(value string) {
	q, ok := f.Current()
	if !ok {
		return
	}
	f.answers[q.ID] = strings.TrimSpace(value)
}

// Next advances to the following question. It returns [ErrAnswerRequired]
// when the current question is required and unanswered; non-required
// questions never block.
func (f *Flow) Next() error {
	q, ok := f.Current()
	if !ok {
		return nil
	}
	if q.Required && f.answers[q.ID] == "" {
		return ErrAnswerRequired
	}
	f.idx++
	return nil
}

// Prev moves back one question. It reports false on the first question,
// where backward navigation is not allowed.
func (f *Flow) Prev() bool {
	if f.idx == 0 {
		return false
	}
	f.idx--
	return true
}

// Answers returns a copy of the accumulated answer map with empty entries
// dropped, ready for the finalize call.
func (f *Flow) Answers() map[string]string {
	out := make(map[string]string, len(f.answers))
	for id, v := range f.answers {
		if v != "" {
			out[id] = v
		}
	}
	return out
}
