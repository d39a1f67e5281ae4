package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilxomkh/survey/internal/capture"
	"github.com/ilxomkh/survey/internal/gateway"
	"github.com/ilxomkh/survey/internal/question"
)

// ErrSurveyNotFound is returned by RunSession for an unknown or inactive
// survey id.
var ErrSurveyNotFound = errors.New("app: survey not found or inactive")

// RunSession executes one full capture session for the given survey: start
// recording, walk the questionnaire on the console, wait out the minimum
// duration and finalize. The persisted session marker is set while the
// session is live so an interrupted run can be detected later.
func (a *App) RunSession(ctx context.Context, surveyID int) error {
	stale, err := a.store.SessionID(ctx)
	if err != nil {
		return fmt.Errorf("app: read session marker: %w", err)
	}
	if stale != "" {
		a.log.Warn("previous session never completed, discarding marker", "session_id", stale)
		if err := a.store.ClearSessionID(ctx); err != nil {
			return fmt.Errorf("app: clear stale session marker: %w", err)
		}
	}

	surveys, err := a.gw.Surveys(ctx, "")
	if err != nil {
		return fmt.Errorf("app: list surveys: %w", err)
	}
	var survey gateway.Survey
	found := false
	for _, s := range surveys {
		if s.ID == surveyID {
			survey, found = s, true
			break
		}
	}
	if !found || !survey.IsActive {
		return fmt.Errorf("%w: id %d", ErrSurveyNotFound, surveyID)
	}

	rec, loc, err := a.devices()
	if err != nil {
		return err
	}

	ctrl, err := capture.New(capture.Config{
		Survey:   survey,
		Recorder: rec,
		Locator:  loc,
		Gateway:  a.gw,
		Logger:   a.log,
		Metrics:  a.metrics,
		Timeouts: capture.Timeouts{
			LocationProbe:    time.Duration(a.cfg.Capture.ProbeTimeoutSec) * time.Second,
			FinalizeLocation: time.Duration(a.cfg.Capture.FinalizeLocationTimeoutSec) * time.Second,
			SliceInterval:    time.Duration(a.cfg.Capture.SliceIntervalSec) * time.Second,
			SampleMaxAge:     time.Duration(a.cfg.Capture.SampleMaxAgeSec) * time.Second,
		},
	})
	if err != nil {
		return fmt.Errorf("app: build session controller: %w", err)
	}

	fmt.Fprintf(a.out, "Starting session for %q (minimum %ds)...\n", survey.Title, survey.MinDurationSec)
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	sessionID := ctrl.SessionID()
	if err := a.store.SetSessionID(ctx, sessionID); err != nil {
		ctrl.Abort()
		return fmt.Errorf("app: persist session marker: %w", err)
	}

	flow := a.loadQuestions(ctx, survey.ID, sessionID)

	err = a.interview(ctx, ctrl, flow)

	// The marker only matters while a session can be left dangling.
	if cerr := a.store.ClearSessionID(context.WithoutCancel(ctx)); cerr != nil {
		a.log.Warn("failed to clear session marker", "error", cerr)
	}
	return err
}

// loadQuestions fetches and normalizes the questionnaire. A malformed or
// foreign payload yields an empty flow rather than an error; the session
// then runs with recording only.
func (a *App) loadQuestions(ctx context.Context, surveyID int, sessionID string) *question.Flow {
	payload, err := a.gw.SurveyQuestions(ctx, surveyID, sessionID)
	if err != nil {
		a.log.Warn("questionnaire fetch failed, continuing without questions", "error", err)
		return question.NewFlow(nil)
	}
	qs, ok := question.Normalize(payload)
	if !ok {
		a.log.Warn("questionnaire payload not recognized, continuing without questions")
	}
	return question.NewFlow(qs)
}

// interview drives the console dialogue: questions first, then the wait for
// finish eligibility, then finalize. On a cancelled context or /abort the
// session is aborted and hardware released.
func (a *App) interview(ctx context.Context, ctrl *capture.Controller, flow *question.Flow) error {
	in := bufio.NewScanner(a.in)

	for !flow.Done() {
		q, _ := flow.Current()
		a.printQuestion(flow.Index()+1, flow.Len(), q)

		line, ok := a.readLine(ctx, in)
		if !ok {
			ctrl.Abort()
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("app: console input ended before the questionnaire was answered")
		}
		if strings.HasPrefix(line, "/") {
			if strings.TrimSpace(line) == "/back" {
				if !flow.Prev() {
					fmt.Fprintln(a.out, "Already at the first question.")
				}
				continue
			}
			if done, err := a.command(ctx, ctrl, line); done {
				return err
			}
			continue
		}
		flow.SetAnswer(line)
		if err := flow.Next(); err != nil {
			if errors.Is(err, question.ErrAnswerRequired) {
				fmt.Fprintln(a.out, "This question requires an answer.")
				continue
			}
			ctrl.Abort()
			return fmt.Errorf("app: question flow: %w", err)
		}
	}

	if err := a.waitForFinish(ctx, ctrl, in); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Finalizing session...")
	if err := ctrl.Finish(ctx, flow.Answers()); err != nil {
		return fmt.Errorf("app: finalize session: %w", err)
	}
	fmt.Fprintf(a.out, "Session %s completed: %ds recorded, %d answers.\n",
		ctrl.SessionID(), ctrl.Elapsed(), len(flow.Answers()))
	return nil
}

// waitForFinish blocks until the minimum recording duration has elapsed.
// Console commands (pause, status, abort) stay available while waiting.
func (a *App) waitForFinish(ctx context.Context, ctrl *capture.Controller, in *bufio.Scanner) error {
	if ctrl.CanFinish() {
		return nil
	}
	fmt.Fprintln(a.out, "Waiting for the minimum recording duration; /status shows progress.")

	lines := make(chan string)
	go func() {
		for in.Scan() {
			lines <- in.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(a.waitPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ctrl.Abort()
			return ctx.Err()
		case <-ticker.C:
			if ctrl.CanFinish() {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				// Input closed; keep waiting on the clock alone.
				lines = nil
				continue
			}
			if strings.HasPrefix(line, "/") {
				if done, err := a.command(ctx, ctrl, line); done {
					return err
				}
			}
		}
	}
}

// command handles a console slash command. done reports that the interview
// must not continue.
func (a *App) command(ctx context.Context, ctrl *capture.Controller, line string) (done bool, err error) {
	switch strings.TrimSpace(line) {
	case "/pause":
		if err := ctrl.Pause(); err != nil {
			fmt.Fprintf(a.out, "Cannot pause: %v\n", err)
		} else {
			fmt.Fprintln(a.out, "Recording paused. /resume to continue.")
		}
	case "/resume":
		if err := ctrl.Resume(); err != nil {
			fmt.Fprintf(a.out, "Cannot resume: %v\n", err)
		} else {
			fmt.Fprintln(a.out, "Recording resumed.")
		}
	case "/status":
		fmt.Fprintf(a.out, "state=%s elapsed=%ds pending_chunks=%d can_finish=%v\n",
			ctrl.State(), ctrl.Elapsed(), ctrl.Outstanding(), ctrl.CanFinish())
	case "/abort":
		ctrl.Abort()
		fmt.Fprintln(a.out, "Session aborted.")
		return true, errors.New("app: session aborted by user")
	default:
		fmt.Fprintf(a.out, "Unknown command %q. Available: /back /pause /resume /status /abort\n", line)
	}
	return false, nil
}

func (a *App) printQuestion(n, total int, q question.Question) {
	fmt.Fprintf(a.out, "[%d/%d] %s", n, total, q.Prompt)
	if q.Required {
		fmt.Fprint(a.out, " (required)")
	}
	fmt.Fprintln(a.out)
	if len(q.Options) > 0 {
		for _, opt := range q.Options {
			fmt.Fprintf(a.out, "  - %s\n", opt)
		}
	}
	fmt.Fprint(a.out, "> ")
}

// readLine reads one input line, honoring context cancellation. ok is false
// when input is exhausted or ctx is done.
func (a *App) readLine(ctx context.Context, in *bufio.Scanner) (string, bool) {
	type scanResult struct {
		line string
		ok   bool
	}
	ch := make(chan scanResult, 1)
	go func() {
		if in.Scan() {
			ch <- scanResult{line: in.Text(), ok: true}
			return
		}
		ch <- scanResult{}
	}()
	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		return res.line, res.ok
	}
}
