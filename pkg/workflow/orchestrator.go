// Package workflow drives one prediction session: task selection, image
// intake, submission and the publication of settled results.
//
// Results are applied in submission order. Every submission captures the
// generation counter when it is issued and its outcome is applied only if
// the counter still has that value when the outcome arrives; a newer
// submission, a task switch or a new file each advance the counter, so a
// slow response for an older request is silently dropped.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan/pkg/client"
	"github.com/menta2k/pulmoscan/pkg/explain"
	"github.com/menta2k/pulmoscan/pkg/intake"
	"github.com/menta2k/pulmoscan/pkg/normalizer"
	"github.com/menta2k/pulmoscan/pkg/types"
)

// ErrClosed is returned once the orchestrator has been torn down
var ErrClosed = errors.New("workflow closed")

// DefaultTimeout bounds a single prediction round-trip
const DefaultTimeout = 60 * time.Second

// Config holds orchestrator settings
type Config struct {
	Timeout     time.Duration
	InitialTask types.DiseaseTask
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOnChange registers a listener called with a fresh snapshot after every
// transition. Calls are serialized in transition order; the listener must
// not call state-changing methods synchronously.
func WithOnChange(fn func(Snapshot)) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

// Orchestrator is the prediction workflow state machine
type Orchestrator struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	client  client.PredictionClient
	intake  *intake.Intake
	view    *explain.Controller
	logger  *logrus.Logger
	timeout time.Duration

	onChange func(Snapshot)

	task       types.DiseaseTask
	phase      types.Phase
	result     *types.PredictionResponse
	errMsg     string
	notice     string
	generation uint64
	cancel     context.CancelFunc
	closed     bool
}

// New creates an orchestrator. in may be nil, in which case an intake with
// default limits is used.
func New(c client.PredictionClient, in *intake.Intake, config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  c,
		intake:  in,
		view:    explain.NewController(),
		timeout: config.Timeout,
		task:    config.InitialTask,
		phase:   types.PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
		o.logger.SetLevel(logrus.PanicLevel)
	}
	if o.intake == nil {
		o.intake = intake.New(intake.DefaultConfig(), o.logger)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if !o.task.Valid() {
		o.task = types.DefaultTask
	}
	return o
}

// SelectTask switches the active task. A result for one task can never be
// read under another task's taxonomy, so everything else is reset.
func (o *Orchestrator) SelectTask(task types.DiseaseTask) error {
	if !task.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownTask, task)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.invalidateLocked()
	o.intake.Release()
	o.clearOutcomeLocked()
	o.notice = ""
	o.task = task
	o.phase = types.PhaseIdle
	o.logger.WithField("task", task).Debug("task selected")
	o.publishAndUnlock()
	return nil
}

// SelectFile validates f and makes it the current image. A rejected file
// leaves the previous image and result in place.
func (o *Orchestrator) SelectFile(f types.File) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}

	if _, err := o.intake.Select(f); err != nil {
		o.notice = err.Error()
		o.publishAndUnlock()
		return err
	}

	o.invalidateLocked()
	o.clearOutcomeLocked()
	o.notice = ""
	o.phase = types.PhaseReady
	o.logger.WithFields(logrus.Fields{"task": o.task, "file": f.Name, "size": f.Size()}).Debug("file selected")
	o.publishAndUnlock()
	return nil
}

// Submit sends the current image to the prediction service. Without an
// image it fails with types.ErrEmptyInput and changes nothing.
func (o *Orchestrator) Submit(ctx context.Context, explainRequested bool) (*Submission, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	asset := o.intake.Current()
	if asset == nil {
		o.mu.Unlock()
		return nil, types.ErrEmptyInput
	}

	o.invalidateLocked()
	gen := o.generation
	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	o.cancel = cancel

	req := types.PredictionRequest{
		ID:       uuid.NewString(),
		Task:     o.task,
		Filename: asset.Name,
		MimeType: asset.MimeType,
		Image:    asset.Data,
		Explain:  explainRequested,
	}
	sub := newSubmission(gen, req.ID)

	o.clearOutcomeLocked()
	o.phase = types.PhaseSubmitting
	o.logger.WithFields(logrus.Fields{
		"task":       req.Task,
		"generation": gen,
		"explain":    explainRequested,
		"request_id": req.ID,
	}).Info("submitting prediction")

	go o.run(reqCtx, cancel, sub, req)

	o.publishAndUnlock()
	return sub, nil
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, sub *Submission, req types.PredictionRequest) {
	wire, err := o.client.Predict(ctx, req)
	var result *types.PredictionResponse
	if err == nil {
		result, err = normalizer.Normalize(req.Task, wire, req.Explain)
		if err != nil {
			err = types.NewRequestError(0, err.Error(), err)
		}
	} else if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = types.NewRequestError(0, fmt.Sprintf("prediction timed out after %s", o.timeout), err)
	}
	cancel()

	log := o.logger.WithFields(logrus.Fields{
		"task":       req.Task,
		"generation": sub.generation,
		"request_id": req.ID,
	})

	o.mu.Lock()
	if o.closed || sub.generation != o.generation {
		o.mu.Unlock()
		log.Debug("discarding superseded prediction outcome")
		sub.finish(Outcome{Err: err})
		return
	}

	o.cancel = nil
	if err != nil {
		o.phase = types.PhaseError
		o.errMsg = requestMessage(err)
		log.Warnf("prediction failed: %s", o.errMsg)
	} else {
		o.result = result
		o.view.Reset(result)
		o.phase = types.PhaseSettled
		for _, w := range result.Warnings {
			log.Warn(w)
		}
		log.WithFields(logrus.Fields{"label": result.Label, "confidence": result.Confidence}).Info("prediction settled")
	}
	o.publishAndUnlock()
	sub.finish(Outcome{Applied: true, Result: result, Err: err})
}

// SetView switches the displayed explanation variant. It fails with
// explain.ErrUnavailable when the current result has no explanation.
func (o *Orchestrator) SetView(mode types.ViewMode) error {
	o.mu.Lock()
	if err := o.view.SetView(mode); err != nil {
		o.mu.Unlock()
		return err
	}
	o.publishAndUnlock()
	return nil
}

// Snapshot returns the current read-only state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Task returns the active task
func (o *Orchestrator) Task() types.DiseaseTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.task
}

// Close releases the preview and drops any in-flight submission
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.invalidateLocked()
	o.intake.Release()
	o.clearOutcomeLocked()
	o.notice = ""
	o.phase = types.PhaseIdle
	o.closed = true
	o.publishAndUnlock()
	return nil
}

// invalidateLocked advances the generation so that any outstanding outcome
// is stale, and cancels the superseded request
func (o *Orchestrator) invalidateLocked() {
	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *Orchestrator) clearOutcomeLocked() {
	o.result = nil
	o.errMsg = ""
	o.view.Reset(nil)
}

// publishAndUnlock takes a snapshot, releases mu and hands the snapshot to
// the listener. notifyMu is taken before mu is released so listeners see
// transitions in order.
func (o *Orchestrator) publishAndUnlock() {
	if o.onChange == nil {
		o.mu.Unlock()
		return
	}
	snap := o.snapshotLocked()
	o.notifyMu.Lock()
	o.mu.Unlock()
	defer o.notifyMu.Unlock()
	o.onChange(snap)
}

func requestMessage(err error) string {
	var reqErr *types.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "prediction failed"
}
