// Package engine drives imagination records through their lifecycle: it
// submits prompts to the generation client, chains delayed status polls,
// converges poll results and webhook pushes into one update handler, applies
// the bounded retry protocol on failure, and publishes assets on completion.
//
// Every state transition is persisted through a conditional update that only
// applies while the stored record is non-terminal, so when a poll and a
// webhook race, the first terminal transition wins and all later arrivals are
// no-ops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/logger"
	"gorm.io/gorm"
)

// Repository is the subset of imagination persistence the engine needs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Imagination, error)
	UpdateNonTerminal(ctx context.Context, id string, fields map[string]interface{}) (bool, error)
	AppendReport(ctx context.Context, imag *domain.Imagination, report string) error
}

// GenerationClient is the external image-generation engine adapter.
type GenerationClient interface {
	Imagine(ctx context.Context, prompt, callbackURL string) (string, error)
	Result(ctx context.Context, taskID string) (*domain.TaskUpdate, error)
}

// AssetPublisher turns a finished generation result into stored, user-facing
// assets.
type AssetPublisher interface {
	Publish(ctx context.Context, imag *domain.Imagination, sourceURL string) ([]domain.ImagineResult, error)
}

// Config holds engine tuning.
type Config struct {
	// PollInterval is the delay between chained status checks for one record.
	PollInterval time.Duration

	// MaxRetries bounds the retry protocol; the (max+1)-th reported failure is
	// permanent.
	MaxRetries int

	// CallbackBaseURL is the externally reachable base URL used to build each
	// record's webhook target.
	CallbackBaseURL string
}

// Engine is the imagination lifecycle engine. Construct it explicitly with
// New and share one instance; it holds no global state.
type Engine struct {
	repo      Repository
	client    GenerationClient
	publisher AssetPublisher
	sched     *Scheduler
	log       *logger.Logger

	pollInterval time.Duration
	maxRetries   int
	callbackBase string
}

// New creates a lifecycle engine.
// Parameters:
//   - repo: imagination persistence.
//   - client: generation engine adapter.
//   - publisher: asset publisher invoked on completion.
//   - log: base logger.
//   - cfg: engine tuning; zero values fall back to 20s interval and 5 retries.
// Returns:
//   - *Engine: initialized engine with an empty scheduler.
func New(repo Repository, client GenerationClient, publisher AssetPublisher, log *logger.Logger, cfg *Config) *Engine {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 20 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Engine{
		repo:         repo,
		client:       client,
		publisher:    publisher,
		sched:        NewScheduler(),
		log:          log,
		pollInterval: pollInterval,
		maxRetries:   maxRetries,
		callbackBase: cfg.CallbackBaseURL,
	}
}

// CallbackURL returns the webhook target handed to the generation engine for
// one record.
func (e *Engine) CallbackURL(id string) string {
	return fmt.Sprintf("%s/api/v1/imaginations/%s/webhook", e.callbackBase, id)
}

// Submit validates the record and submits its prompt to the generation
// engine. On success the external task id is stored, the record moves to
// init, and the first status poll is scheduled. Invalid configuration fails
// permanently; any other submission error goes through the retry protocol.
// Safe to run concurrently with webhook deliveries for the same record.
func (e *Engine) Submit(ctx context.Context, imag *domain.Imagination) {
	ctx = logger.SetImaginationID(logger.SetComponent(ctx, "engine"), imag.ID)

	if err := e.submit(ctx, imag); err != nil {
		if errors.Is(err, domain.ErrUnsupportedEngine) || errors.Is(err, domain.ErrUnsupportedMode) {
			e.fail(ctx, imag, err.Error())
			return
		}
		logger.CtxError(ctx, "Submission failed: %v", err)
		e.retry(ctx, imag, err.Error())
	}
}

func (e *Engine) submit(ctx context.Context, imag *domain.Imagination) error {
	if imag.Mode != domain.ModeImagine {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedMode, imag.Mode)
	}
	if !imag.Engine.Supported() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedEngine, imag.Engine)
	}

	taskID, err := e.client.Imagine(ctx, imag.Prompt, e.CallbackURL(imag.ID))
	if err != nil {
		return err
	}

	applied, err := e.repo.UpdateNonTerminal(ctx, imag.ID, map[string]interface{}{
		"task_id": taskID,
		"status":  domain.StatusInit,
	})
	if err != nil {
		return err
	}
	if !applied {
		// Record was cancelled (or otherwise finished) while the submission
		// was in flight; the new task is orphaned and never polled.
		logger.CtxInfo(ctx, "Record already terminal, dropping submission for task %s", taskID)
		return nil
	}
	imag.TaskID = taskID
	imag.Status = domain.StatusInit

	if err := e.repo.AppendReport(ctx, imag, "midjourney requested, task "+taskID); err != nil {
		logger.CtxWarn(ctx, "Failed to append submission report: %v", err)
	}

	logger.CtxInfo(ctx, "Submitted imagination, task %s", taskID)
	e.schedulePoll(imag.ID)
	return nil
}

func (e *Engine) schedulePoll(id string) {
	e.sched.Schedule(id, e.pollInterval, func() { e.poll(id) })
}

// poll is one link of a record's poll chain. It runs detached from any
// request context.
func (e *Engine) poll(id string) {
	ctx := logger.SetImaginationID(logger.SetComponent(context.Background(), "engine"), id)

	imag, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.CtxInfo(ctx, "Record deleted, poll chain stops")
			return
		}
		logger.CtxError(ctx, "Failed to load record for poll: %v", err)
		e.schedulePoll(id)
		return
	}

	if imag.Status.Done() {
		return
	}
	if imag.TaskID == "" {
		// A poll without a task id means the record is corrupt. Permanent.
		e.fail(ctx, imag, domain.ErrMissingTaskID.Error())
		return
	}

	upd, err := e.client.Result(ctx, imag.TaskID)
	if err != nil {
		logger.CtxWarn(ctx, "Status poll failed, keeping chain alive: %v", err)
		e.schedulePoll(id)
		return
	}

	e.apply(ctx, imag, upd, true)
}

// HandleWebhook feeds a pushed status update into the lifecycle. The poll
// chain for the record keeps running; the idempotence guard makes the two
// paths converge safely.
func (e *Engine) HandleWebhook(ctx context.Context, imag *domain.Imagination, payload *domain.WebhookPayload) {
	ctx = logger.SetImaginationID(logger.SetComponent(ctx, "engine"), imag.ID)
	upd := &domain.TaskUpdate{
		Status:     payload.Status,
		Percentage: payload.Percentage.Int(),
		ResultURI:  payload.ResultURI(),
		Error:      payload.Error,
	}
	e.apply(ctx, imag, upd, false)
}

// apply is the single converged status-update handler for the polling path
// and webhook ingress. fromPoll controls whether the chain reschedules after
// an intermediate update.
func (e *Engine) apply(ctx context.Context, imag *domain.Imagination, upd *domain.TaskUpdate, fromPoll bool) {
	if imag.Status.Done() {
		// Stale delivery for a finished record. The conditional update below
		// backs this guard across processes.
		return
	}

	status := domain.StatusFromProvider(upd.Status)

	switch status {
	case domain.StatusError:
		message := upd.Error
		if message == "" {
			message = "generation failed"
		}
		e.retry(ctx, imag, message)

	case domain.StatusCompleted:
		e.finalize(ctx, imag, upd)

	default:
		applied, err := e.repo.UpdateNonTerminal(ctx, imag.ID, map[string]interface{}{
			"status":   status,
			"progress": upd.Percentage,
		})
		if err != nil {
			logger.CtxError(ctx, "Failed to persist status update: %v", err)
			if fromPoll {
				e.schedulePoll(imag.ID)
			}
			return
		}
		if !applied {
			// Someone else finished the record first.
			return
		}
		imag.Status = status
		imag.Progress = upd.Percentage
		if err := e.repo.AppendReport(ctx, imag, fmt.Sprintf("midjourney update: %s %d%%", status, upd.Percentage)); err != nil {
			logger.CtxWarn(ctx, "Failed to append update report: %v", err)
		}
		if fromPoll {
			e.schedulePoll(imag.ID)
		}
	}
}

// finalize converts a successful generation result into stored assets and
// makes the terminal completed transition. A publishing failure goes through
// the retry protocol rather than leaving a completed record without results:
// the external generation can be reproduced, and the retry bound still holds.
func (e *Engine) finalize(ctx context.Context, imag *domain.Imagination, upd *domain.TaskUpdate) {
	results, err := e.publisher.Publish(ctx, imag, upd.ResultURI)
	if err != nil {
		logger.CtxError(ctx, "Finalization failed: %v", err)
		if rerr := e.repo.AppendReport(ctx, imag, "finalization failed: "+err.Error()); rerr != nil {
			logger.CtxWarn(ctx, "Failed to append finalization report: %v", rerr)
		}
		e.retry(ctx, imag, "finalization failed: "+err.Error())
		return
	}

	applied, err := e.repo.UpdateNonTerminal(ctx, imag.ID, map[string]interface{}{
		"status":   domain.StatusCompleted,
		"progress": 100,
		"results":  domain.ImagineResults(results),
	})
	if err != nil {
		logger.CtxError(ctx, "Failed to persist completion: %v", err)
		return
	}
	if !applied {
		logger.CtxInfo(ctx, "Completion lost the terminal race, keeping first writer's state")
		return
	}
	imag.Status = domain.StatusCompleted
	imag.Progress = 100
	imag.Results = results

	if err := e.repo.AppendReport(ctx, imag, fmt.Sprintf("midjourney completed, %d assets published", len(results))); err != nil {
		logger.CtxWarn(ctx, "Failed to append completion report: %v", err)
	}

	logger.With(logger.Fields{logger.FieldCount: len(results)}).
		Info(ctx, "Imagination completed")
	e.sched.Cancel(imag.ID)
}

// retry implements the bounded retry protocol. Under the limit it increments
// the counter and re-submits asynchronously; at the limit the record fails
// permanently. The old task's poll chain is left to die on the terminal and
// conditional-update guards.
func (e *Engine) retry(ctx context.Context, imag *domain.Imagination, message string) {
	if imag.RetryCount >= e.maxRetries {
		e.fail(ctx, imag, message)
		return
	}

	applied, err := e.repo.UpdateNonTerminal(ctx, imag.ID, map[string]interface{}{
		"retry_count": imag.RetryCount + 1,
	})
	if err != nil {
		logger.CtxError(ctx, "Failed to persist retry count: %v", err)
		return
	}
	if !applied {
		return
	}
	imag.RetryCount++

	if err := e.repo.AppendReport(ctx, imag, fmt.Sprintf("retry %d/%d: %s", imag.RetryCount, e.maxRetries, message)); err != nil {
		logger.CtxWarn(ctx, "Failed to append retry report: %v", err)
	}
	logger.CtxInfo(ctx, "Retrying imagination (%d/%d): %s", imag.RetryCount, e.maxRetries, message)

	go e.Submit(detach(ctx), imag)
}

// fail makes the terminal error transition and stops all scheduling for the
// record.
func (e *Engine) fail(ctx context.Context, imag *domain.Imagination, message string) {
	applied, err := e.repo.UpdateNonTerminal(ctx, imag.ID, map[string]interface{}{
		"status": domain.StatusError,
		"error":  message,
	})
	if err != nil {
		logger.CtxError(ctx, "Failed to persist failure: %v", err)
		return
	}
	if !applied {
		return
	}
	imag.Status = domain.StatusError
	imag.Error = message

	if err := e.repo.AppendReport(ctx, imag, "imagination failed: "+message); err != nil {
		logger.CtxWarn(ctx, "Failed to append failure report: %v", err)
	}
	logger.CtxError(ctx, "Imagination failed permanently: %s", message)
	e.sched.Cancel(imag.ID)
}

// StopPolling cancels any pending poll for a record. Used when a record is
// deleted or cancelled externally.
func (e *Engine) StopPolling(id string) {
	e.sched.Cancel(id)
}

// Pending returns the number of records with a scheduled poll.
func (e *Engine) Pending() int {
	return e.sched.Pending()
}

// Shutdown cancels every pending poll. In-flight checks finish on their own;
// they are harmless against terminal records.
func (e *Engine) Shutdown() {
	e.sched.Stop()
}

// detach keeps the logger fields of ctx but drops its cancellation, for work
// that outlives the triggering request.
func detach(ctx context.Context) context.Context {
	return logger.FromContext(ctx).WithContext(context.Background())
}
