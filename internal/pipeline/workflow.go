package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dailybugs-backend/internal/delivery"
	"dailybugs-backend/internal/github"
	"dailybugs-backend/internal/llm"
	"dailybugs-backend/internal/logger"
	"dailybugs-backend/internal/steps"
	"dailybugs-backend/internal/store"
)

// CredentialStore is the part of the store a run reads and, on fatal
// credential or configuration errors, revokes.
type CredentialStore interface {
	GetToken(ctx context.Context, userID string) (string, error)
	DeleteToken(ctx context.Context, userID string) error
	GetDelivery(ctx context.Context, userID string) (string, error)
}

type Deps struct {
	Store  CredentialStore
	GitHub github.API
	Model  llm.Model
	Prompt llm.PromptSpec
	Email  delivery.EmailSender
	Chat   delivery.ChatSender
	Steps  steps.Log
	Log    *logger.Logger
}

// Runner executes the daily bug-report workflow. A user has at most one run
// in flight; scheduled and manual runs share the guard.
type Runner struct {
	deps Deps
	log  *logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func NewRunner(deps Deps) *Runner {
	lg := deps.Log
	if lg == nil {
		lg = logger.Nop()
	}
	return &Runner{deps: deps, log: lg, active: make(map[string]struct{})}
}

// Params identify one run. Retrying with the same RunID resumes from the
// last committed step.
type Params struct {
	RunID   string
	UserID  string
	TestRun bool
	// Now anchors the lookback window.
	Now time.Time
}

type Result struct {
	Stats     RunStats `json:"stats"`
	Findings  int      `json:"findings"`
	Warnings  []string `json:"warnings,omitempty"`
	Delivered bool     `json:"delivered"`
}

// prelude is everything resolved before any repository data is read.
type prelude struct {
	token  string
	login  string
	method delivery.Method
	email  string
}

// diffOutcome is the committed result of one diff step.
type diffOutcome struct {
	Record  *DiffRecord `json:"record,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

// Run gathers the last day of pushes for p.UserID, reviews them and
// delivers one message. Failures resolving the user's identity or delivery
// destination delete the stored token before returning. It returns
// ErrRunInProgress while another run for the same user is going.
func (r *Runner) Run(ctx context.Context, p Params) (Result, error) {
	if !r.claim(p.UserID) {
		return Result{}, ErrRunInProgress
	}
	defer r.release(p.UserID)

	lg := r.log.With("run_id", p.RunID).With("user_id", p.UserID)
	ex := steps.NewExecutor(r.deps.Steps, p.RunID, lg)
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}
	cutoff := p.Now.Add(-Lookback)

	token, method, err := r.loadSettings(ctx, p.UserID)
	if errors.Is(err, ErrNoToken) {
		return Result{}, r.revoke(ctx, lg, p.UserID, err)
	}
	if err != nil {
		return Result{}, err
	}
	pre, err := r.resolve(ctx, ex, token, method)
	if err != nil {
		return Result{}, r.revoke(ctx, lg, p.UserID, err)
	}

	events, err := steps.Do(ctx, ex, "load all pages", func(ctx context.Context) ([]PushEvent, error) {
		return CollectPushEvents(ctx, r.deps.GitHub, pre.token, pre.login, cutoff)
	})
	if err != nil {
		return Result{}, err
	}
	ranges := AggregateRanges(events)
	lg.Infof("found %d push events in %d ranges", len(events), len(ranges))

	var warnings []string
	diffs := []DiffRecord{}
	for _, rng := range ranges {
		rng := rng
		name := fmt.Sprintf("diff %s %s %s..%s", rng.Repo, rng.Ref, rng.Old, rng.New)
		out, err := steps.Do(ctx, ex, name, func(ctx context.Context) (diffOutcome, error) {
			raw, err := r.deps.GitHub.GetDiff(ctx, pre.token, rng.Repo, rng.Old, rng.New)
			if err != nil {
				return diffOutcome{}, err
			}
			rec, warning, ok := SanitizeDiff(rng, raw, MaxDiffChars)
			if !ok {
				return diffOutcome{Warning: warning}, nil
			}
			return diffOutcome{Record: &rec}, nil
		})
		if err != nil {
			return Result{}, err
		}
		if out.Warning != "" {
			lg.Warn(out.Warning)
			warnings = append(warnings, out.Warning)
		}
		if out.Record != nil {
			diffs = append(diffs, *out.Record)
		}
	}

	batches, batchWarning := PackBatches(diffs, SoftBatchLimit, MaxBatches)
	if batchWarning != "" {
		lg.Warn(batchWarning)
		warnings = append(warnings, batchWarning)
	}

	res := Result{
		Stats: RunStats{
			Events:  len(events),
			Repos:   DistinctRepos(ranges),
			Ranges:  len(ranges),
			Diffs:   len(diffs),
			Batches: len(batches),
		},
		Warnings: warnings,
	}

	var body string
	if p.TestRun {
		body = RenderTestSummary(res.Stats)
	} else {
		var findings []BugFinding
		for i, batch := range batches {
			batch := batch
			found, err := steps.Do(ctx, ex, fmt.Sprintf("analyze batch %d", i+1), func(ctx context.Context) ([]BugFinding, error) {
				return r.analyze(ctx, batch)
			})
			if err != nil {
				return res, err
			}
			findings = append(findings, found...)
		}
		res.Findings = len(findings)
		format := Markdown
		if pre.method.Kind == delivery.KindEmail {
			format = PlainText
		}
		body = RenderFindings(findings, format)
	}

	message := AppendWarnings(body, warnings)
	if message == "" {
		lg.Info("nothing to report")
		return res, nil
	}
	if err := r.dispatch(ctx, ex, lg, p, pre, message); err != nil {
		return res, err
	}
	res.Delivered = true
	lg.Infof("report delivered via %s", pre.method.Kind)
	return res, nil
}

func (r *Runner) claim(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[userID]; busy {
		return false
	}
	r.active[userID] = struct{}{}
	return true
}

func (r *Runner) release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, userID)
}

// loadSettings reads the user's token and delivery method. Store failures
// are returned as they are; only a missing token is fatal.
func (r *Runner) loadSettings(ctx context.Context, userID string) (string, delivery.Method, error) {
	token, err := r.deps.Store.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", delivery.Method{}, ErrNoToken
	}
	if err != nil {
		return "", delivery.Method{}, fmt.Errorf("load token: %w", err)
	}
	raw, err := r.deps.Store.GetDelivery(ctx, userID)
	if err != nil {
		return "", delivery.Method{}, fmt.Errorf("load delivery method: %w", err)
	}
	return token, delivery.ParseMethod(raw), nil
}

// resolve looks up the GitHub identity and, for email delivery, the address.
func (r *Runner) resolve(ctx context.Context, ex *steps.Executor, token string, method delivery.Method) (prelude, error) {
	login, err := steps.Do(ctx, ex, "get username", func(ctx context.Context) (string, error) {
		u, err := r.deps.GitHub.GetUser(ctx, token)
		return u.Login, err
	})
	if err != nil {
		return prelude{}, err
	}
	pre := prelude{token: token, login: login, method: method}

	if pre.method.Kind == delivery.KindEmail {
		pre.email, err = steps.Do(ctx, ex, "get email", func(ctx context.Context) (string, error) {
			emails, err := r.deps.GitHub.ListEmails(ctx, token)
			if err != nil {
				return "", err
			}
			addr, _ := github.PrimaryVerifiedEmail(emails)
			return addr, nil
		})
		if err != nil {
			return prelude{}, err
		}
	}
	return pre, nil
}

func (r *Runner) analyze(ctx context.Context, batch Batch) ([]BugFinding, error) {
	reply, err := r.deps.Model.Complete(ctx, BuildPrompt(batch, r.deps.Prompt))
	if err != nil {
		return nil, err
	}
	findings, err := ExtractFindings(reply)
	if err != nil {
		return nil, err
	}
	return ExpandCommits(findings, batch), nil
}

func (r *Runner) dispatch(ctx context.Context, ex *steps.Executor, lg *logger.Logger, p Params, pre prelude, message string) error {
	switch pre.method.Kind {
	case delivery.KindEmail:
		if pre.email == "" {
			return r.revoke(ctx, lg, p.UserID, ErrNoEmail)
		}
		if r.deps.Email == nil {
			return errors.New("email delivery is not configured")
		}
		_, err := steps.Do(ctx, ex, "send email", func(ctx context.Context) (bool, error) {
			return true, r.deps.Email.SendEmail(ctx, pre.email, subject(p), message)
		})
		return err
	case delivery.KindDiscord:
		if pre.method.MentionID == "" {
			return r.revoke(ctx, lg, p.UserID, ErrNoMentionID)
		}
		if r.deps.Chat == nil {
			return errors.New("discord delivery is not configured")
		}
		_, err := steps.Do(ctx, ex, "send chat", func(ctx context.Context) (bool, error) {
			return true, r.deps.Chat.SendChat(ctx, fmt.Sprintf("<@%s>\n%s", pre.method.MentionID, message))
		})
		return err
	default:
		return r.revoke(ctx, lg, p.UserID, fmt.Errorf("%w: %q", ErrUnknownMethod, pre.method.Raw))
	}
}

func subject(p Params) string {
	if p.TestRun {
		return "Daily bugs (test run)"
	}
	return "Daily bugs for " + p.Now.Format("January 2, 2006")
}

// revoke deletes the user's token so the scheduler stops running for them,
// then returns cause. Cancellation says nothing about the credentials, so
// it never revokes.
func (r *Runner) revoke(ctx context.Context, lg *logger.Logger, userID string, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	if err := r.deps.Store.DeleteToken(context.WithoutCancel(ctx), userID); err != nil {
		lg.Error("failed to delete access token", err)
		return errors.Join(cause, fmt.Errorf("delete token: %w", err))
	}
	lg.Warnf("access token deleted: %v", cause)
	return fmt.Errorf("%w: %w", ErrTokenRevoked, cause)
}
