// Package orchestrator drives lab orders through the portal state machine:
// intake, demographic enrichment, browser automation, the operator preview
// gate, and final submission or escalation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
	"github.com/quartzhealth/portalbridge/internal/edi/x12"
	"github.com/quartzhealth/portalbridge/internal/escalation"
	"github.com/quartzhealth/portalbridge/internal/observability/metrics"
	"github.com/quartzhealth/portalbridge/internal/portal"
	"github.com/quartzhealth/portalbridge/pkg/idempotency"
	"github.com/quartzhealth/portalbridge/pkg/workerpool"
)

var (
	// ErrOrderNotFound is returned for unknown order IDs.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateIntake is returned when an identical intake is already in
	// flight; the existing order's snapshot accompanies it.
	ErrDuplicateIntake = errors.New("duplicate intake")
	// ErrSessionExpired is returned when confirm arrives after the preview
	// window closed.
	ErrSessionExpired = errors.New("preview session expired")
	// ErrNotAwaitingConfirmation is returned when confirm or cancel hits an
	// order outside the preview gate.
	ErrNotAwaitingConfirmation = errors.New("order not awaiting confirmation")
)

// EligibilityChecker verifies coverage and returns payer-held demographics.
type EligibilityChecker interface {
	Check(ctx context.Context, patient order.Demographics) (x12.Result, error)
}

// EventStore persists order audit events. Write failures are logged, never
// fatal: the in-process aggregate remains authoritative.
type EventStore interface {
	Save(ctx context.Context, o *order.Order) error
}

// StatusPublisher emits an order status change to downstream consumers.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, snap order.Snapshot) error
}

// Config tunes retry and concurrency behavior.
type Config struct {
	// MaxRetries bounds transient-failure retries per order. The first
	// attempt does not count.
	MaxRetries int
	// RetryDelay is the base delay between attempts, scaled linearly.
	RetryDelay time.Duration
	// Workers caps concurrent browser sessions.
	Workers int
	// QueueSize bounds the submission queue.
	QueueSize int
	// Registry bounds the preview confirmation window.
	Registry RegistryConfig
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Workers:    4,
		QueueSize:  256,
		Registry:   DefaultRegistryConfig(),
	}
}

// Deps carries the orchestrator's collaborators. Eligibility, Events,
// Statuses, Notifier, Inbox and Metrics may be nil; the corresponding
// behavior degrades gracefully.
type Deps struct {
	Eligibility EligibilityChecker
	Factory     portal.DriverFactory
	Selectors   portal.SelectorSet
	Portal      portal.Config
	Artifacts   *portal.ArtifactStore
	Events      EventStore
	Statuses    StatusPublisher
	Notifier    escalation.Notifier
	Inbox       *idempotency.Inbox
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type taskKind string

const (
	taskProcess  taskKind = "process"
	taskFinalize taskKind = "finalize"
)

type taskPayload struct {
	kind    taskKind
	orderID string
	session *portal.Session
}

// Orchestrator owns the order store and the submission pipeline.
type Orchestrator struct {
	config   Config
	deps     Deps
	logger   *zap.Logger
	tracer   trace.Tracer
	pool     *workerpool.Pool
	registry *SessionRegistry

	mu     sync.Mutex
	orders map[string]*order.Order
}

// New creates an orchestrator. Start must be called before intakes are
// accepted.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Factory == nil {
		return nil, fmt.Errorf("driver factory is required")
	}
	if deps.Selectors == nil {
		deps.Selectors = portal.DefaultSelectorSet()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}

	o := &Orchestrator{
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
		tracer: otel.Tracer("orchestrator"),
		orders: make(map[string]*order.Order),
	}

	pool, err := workerpool.New(workerpool.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, o.handleTask, deps.Logger)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	o.registry = NewSessionRegistry(cfg.Registry, o.expirePreview, deps.Logger)
	return o, nil
}

// Start launches the worker pool and the preview sweep.
func (o *Orchestrator) Start() {
	o.pool.Start()
	o.registry.Start()
}

// Stop drains the pipeline and releases parked sessions.
func (o *Orchestrator) Stop() {
	o.registry.Stop()
	o.pool.Stop()
	if o.deps.Inbox != nil {
		o.deps.Inbox.Stop()
	}
}

// Intake validates and accepts a new lab order, returning immediately while
// processing continues on the worker pool. A duplicate of an intake seen
// within the dedupe window returns the existing order's snapshot together
// with ErrDuplicateIntake.
func (o *Orchestrator) Intake(ctx context.Context, in order.Intake) (order.Snapshot, error) {
	ctx, span := o.tracer.Start(ctx, "order_intake",
		trace.WithAttributes(attribute.String("provider_npi", in.ProviderNPI)))
	defer span.End()

	id := uuid.New().String()
	ord, err := order.New(id, in)
	if err != nil {
		return order.Snapshot{}, err
	}

	if o.deps.Inbox != nil {
		codes := make([]string, len(in.Tests))
		for i, t := range in.Tests {
			codes[i] = t.Code
		}
		key := idempotency.GenerateKey(in.ProviderNPI, in.Patient.MemberID, codes, time.Now())
		if existingID, dup := o.deps.Inbox.Register(key, id); dup {
			if snap, getErr := o.Get(existingID); getErr == nil {
				span.SetAttributes(attribute.Bool("duplicate", true))
				return snap, ErrDuplicateIntake
			}
		}
	}

	o.mu.Lock()
	o.orders[id] = ord
	o.mu.Unlock()

	snap := o.persist(ctx, ord)
	if m := o.deps.Metrics; m != nil {
		m.OrdersReceived.Inc()
	}
	o.logger.Info("order accepted",
		zap.String("order_id", id),
		zap.String("provider_npi", in.ProviderNPI),
		zap.Int("tests", len(in.Tests)))

	if err := o.enqueue(taskProcess, id, nil); err != nil {
		o.fail(ctx, ord, fmt.Sprintf("submission queue rejected order: %s", err), "")
		return order.Snapshot{}, err
	}
	return snap, nil
}

// Get returns the current snapshot of an order.
func (o *Orchestrator) Get(orderID string) (order.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[orderID]
	if !ok {
		return order.Snapshot{}, ErrOrderNotFound
	}
	return ord.Snapshot(), nil
}

// List returns snapshots of all known orders.
func (o *Orchestrator) List() []order.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snaps := make([]order.Snapshot, 0, len(o.orders))
	for _, ord := range o.orders {
		snaps = append(snaps, ord.Snapshot())
	}
	return snaps
}

// Confirm releases an order from the preview gate. The actual portal
// submission completes asynchronously; the returned snapshot already shows
// the confirmed status.
func (o *Orchestrator) Confirm(ctx context.Context, orderID string) (order.Snapshot, error) {
	ord, err := o.lookup(orderID)
	if err != nil {
		return order.Snapshot{}, err
	}
	switch o.status(ord) {
	case order.StatusAwaitingConfirmation:
	case order.StatusFailed:
		return order.Snapshot{}, ErrSessionExpired
	default:
		return order.Snapshot{}, ErrNotAwaitingConfirmation
	}

	session, ok := o.registry.Take(orderID)
	if !ok {
		return order.Snapshot{}, ErrSessionExpired
	}

	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.MarkConfirmed() }); err != nil {
		o.releaseSession(session)
		return order.Snapshot{}, err
	}

	if err := o.enqueue(taskFinalize, orderID, session); err != nil {
		o.releaseSession(session)
		o.fail(ctx, ord, fmt.Sprintf("submission queue rejected confirmation: %s", err), "")
		return order.Snapshot{}, err
	}
	return o.snapshot(ord), nil
}

// Cancel abandons an order before submission. The parked session, if any,
// is released. Cancellation is an operator decision, not a failure, so no
// escalation is raised.
func (o *Orchestrator) Cancel(ctx context.Context, orderID string) (order.Snapshot, error) {
	ord, err := o.lookup(orderID)
	if err != nil {
		return order.Snapshot{}, err
	}

	if session, ok := o.registry.Take(orderID); ok {
		o.releaseSession(session)
	}

	if err := o.mutate(ctx, ord, func(ord *order.Order) error {
		return ord.MarkCancelled("cancelled by operator")
	}); err != nil {
		return order.Snapshot{}, err
	}
	if m := o.deps.Metrics; m != nil {
		m.OrdersCancelled.Inc()
	}
	o.logger.Info("order cancelled", zap.String("order_id", orderID))
	return o.snapshot(ord), nil
}

// Retry re-runs a failed order from intake with a fresh retry budget.
func (o *Orchestrator) Retry(ctx context.Context, orderID string) (order.Snapshot, error) {
	ord, err := o.lookup(orderID)
	if err != nil {
		return order.Snapshot{}, err
	}
	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.ResetForRetry() }); err != nil {
		return order.Snapshot{}, err
	}
	if err := o.enqueue(taskProcess, orderID, nil); err != nil {
		o.fail(ctx, ord, fmt.Sprintf("submission queue rejected retry: %s", err), "")
		return order.Snapshot{}, err
	}
	o.logger.Info("order requeued", zap.String("order_id", orderID))
	return o.snapshot(ord), nil
}

// Stats exposes pool health for readiness checks.
func (o *Orchestrator) Stats() workerpool.Stats { return o.pool.Stats() }

// ParkedSessions returns the number of previews awaiting confirmation.
func (o *Orchestrator) ParkedSessions() int { return o.registry.Len() }

func (o *Orchestrator) enqueue(kind taskKind, orderID string, session *portal.Session) error {
	return o.pool.Submit(&workerpool.Task{
		ID:      string(kind) + ":" + orderID,
		Payload: taskPayload{kind: kind, orderID: orderID, session: session},
	})
}

func (o *Orchestrator) handleTask(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	payload, ok := task.Payload.(taskPayload)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false,
			Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
	}

	ord, err := o.lookup(payload.orderID)
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	switch payload.kind {
	case taskProcess:
		o.process(ctx, ord)
	case taskFinalize:
		o.finalize(ctx, ord, payload.session)
	}
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

// process runs enrichment and the bounded attempt loop. On success the
// order is parked at the preview gate; every other outcome is terminal.
func (o *Orchestrator) process(ctx context.Context, ord *order.Order) {
	ctx, span := o.tracer.Start(ctx, "order_process",
		trace.WithAttributes(attribute.String("order_id", ord.ID())))
	defer span.End()

	o.enrich(ctx, ord)

	for {
		err := o.attempt(ctx, ord)
		if err == nil {
			return
		}
		span.RecordError(err)

		// An attempt checkpoint hit a terminal order: the operator cancelled
		// (or a sweep failed it) while the worker was mid-flight. Stand down;
		// whoever made the order terminal owns the outcome.
		if errors.Is(err, order.ErrTerminal) {
			o.logger.Info("attempt abandoned, order already terminal",
				zap.String("order_id", ord.ID()),
				zap.String("status", string(o.status(ord))))
			return
		}
		if errors.Is(err, portal.ErrAuthenticationFailed) {
			o.fail(ctx, ord, err.Error(), "")
			return
		}
		// Only element lookups and navigation are worth retrying against a
		// fresh session. Anything else is not a portal hiccup.
		if !errors.Is(err, portal.ErrElementNotFound) && !errors.Is(err, portal.ErrTransientNavigation) {
			o.fail(ctx, ord, err.Error(), "")
			return
		}
		retries := o.snapshot(ord).RetryCount
		if retries >= o.config.MaxRetries {
			o.fail(ctx, ord, fmt.Sprintf("retry limit reached after %d attempts: %s",
				retries+1, err), "")
			return
		}

		if mErr := o.mutate(ctx, ord, func(ord *order.Order) error {
			return ord.ScheduleRetry(err.Error())
		}); mErr != nil {
			return
		}
		retries++
		if m := o.deps.Metrics; m != nil {
			m.PortalRetries.Inc()
		}
		o.logger.Warn("portal attempt failed, retrying",
			zap.String("order_id", ord.ID()),
			zap.Int("retry", retries),
			zap.Error(err))

		select {
		case <-ctx.Done():
			o.fail(ctx, ord, fmt.Sprintf("processing aborted: %s", ctx.Err()), "")
			return
		case <-time.After(o.config.RetryDelay * time.Duration(retries)):
		}
	}
}

// enrich runs the eligibility check. Any eligibility failure degrades to
// caller-supplied demographics; it never blocks submission.
func (o *Orchestrator) enrich(ctx context.Context, ord *order.Order) {
	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.BeginEnrichment() }); err != nil {
		return
	}

	if o.deps.Eligibility == nil {
		o.mutate(ctx, ord, func(ord *order.Order) error {
			ord.SkipEnrichment("eligibility checking disabled")
			return nil
		})
		return
	}

	result, err := o.deps.Eligibility.Check(ctx, ord.Patient())
	if err != nil {
		if m := o.deps.Metrics; m != nil {
			m.EligibilityChecks.WithLabelValues("error").Inc()
		}
		o.logger.Warn("eligibility check failed, proceeding with caller demographics",
			zap.String("order_id", ord.ID()),
			zap.Error(err))
		o.mutate(ctx, ord, func(ord *order.Order) error {
			ord.SkipEnrichment(err.Error())
			return nil
		})
		return
	}

	outcome := "ineligible"
	if result.Eligible {
		outcome = "eligible"
	}
	if m := o.deps.Metrics; m != nil {
		m.EligibilityChecks.WithLabelValues(outcome).Inc()
	}
	o.logger.Info("demographics enriched",
		zap.String("order_id", ord.ID()),
		zap.Bool("eligible", result.Eligible),
		zap.String("plan", string(result.PlanCategory)))
	o.mutate(ctx, ord, func(ord *order.Order) error {
		ord.ApplyEnrichment(result.Verified, result.PlanDescription)
		return nil
	})
}

// attempt runs one full login-through-preview pass in a fresh session. The
// session outlives the call only when the order parks at the preview gate.
func (o *Orchestrator) attempt(ctx context.Context, ord *order.Order) error {
	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.BeginAttempt() }); err != nil {
		return err
	}

	driver, err := o.deps.Factory(ctx)
	if err != nil {
		return fmt.Errorf("%w: launch browser: %v", portal.ErrTransientNavigation, err)
	}
	session := portal.NewSession(driver, o.deps.Selectors, o.deps.Portal, o.deps.Artifacts, o.logger)
	if m := o.deps.Metrics; m != nil {
		m.ActiveSessions.Inc()
	}

	parked := false
	defer func() {
		if !parked {
			o.releaseSession(session)
		}
	}()

	if err := session.Login(ctx); err != nil {
		return err
	}

	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.MarkNavigating() }); err != nil {
		return err
	}
	if err := session.NavigateToOrderForm(ctx); err != nil {
		return err
	}

	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.MarkFilling() }); err != nil {
		return err
	}
	if err := session.FillOrderForm(ctx, o.snapshot(ord)); err != nil {
		return err
	}
	if err := session.OpenReview(ctx); err != nil {
		return err
	}

	ref := session.Screenshot(ctx, "preview")
	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.MarkPreviewReady(ref) }); err != nil {
		return err
	}

	o.registry.Register(ord.ID(), session)
	parked = true
	o.logger.Info("order parked for preview confirmation",
		zap.String("order_id", ord.ID()),
		zap.String("artifact", ref))
	return nil
}

// finalize completes the portal submission after operator confirmation.
// A failure here goes straight to escalation: the portal's state is unknown
// and a blind retry could double-submit.
func (o *Orchestrator) finalize(ctx context.Context, ord *order.Order, session *portal.Session) {
	ctx, span := o.tracer.Start(ctx, "order_finalize",
		trace.WithAttributes(attribute.String("order_id", ord.ID())))
	defer span.End()
	defer o.releaseSession(session)

	confirmationID, err := session.Submit(ctx)
	if err != nil {
		span.RecordError(err)
		ref := session.Screenshot(ctx, "submit-failure")
		o.fail(ctx, ord, fmt.Sprintf("final submission failed: %s", err), ref)
		return
	}

	snap := o.snapshot(ord)
	o.mutate(ctx, ord, func(ord *order.Order) error { return ord.MarkSubmitted(confirmationID) })
	if m := o.deps.Metrics; m != nil {
		m.OrdersSubmitted.Inc()
		m.SubmissionDuration.Observe(time.Since(snap.CreatedAt).Seconds())
	}
	o.logger.Info("order submitted",
		zap.String("order_id", ord.ID()),
		zap.String("confirmation_id", confirmationID))
}

// fail transitions the order to Failed and escalates exactly once. An
// already-terminal order is left untouched, which is what makes concurrent
// failure paths (sweep vs worker) safe.
func (o *Orchestrator) fail(ctx context.Context, ord *order.Order, reason, artifactRef string) {
	if err := o.mutate(ctx, ord, func(ord *order.Order) error { return ord.MarkFailed(reason) }); err != nil {
		return
	}
	if m := o.deps.Metrics; m != nil {
		m.OrdersFailed.Inc()
	}

	snap := o.snapshot(ord)
	if artifactRef == "" {
		artifactRef = snap.PreviewRef
	}
	codes := make([]string, len(snap.Tests))
	for i, t := range snap.Tests {
		codes[i] = t.Code
	}
	report := escalation.Report{
		OrderID:      snap.ID,
		PatientName:  snap.Patient.FirstName + " " + snap.Patient.LastName,
		ProviderNPI:  snap.ProviderNPI,
		TestCodes:    codes,
		Class:        escalation.Classify(reason),
		Reason:       reason,
		AttemptCount: snap.RetryCount + 1,
		ArtifactRef:  artifactRef,
		OccurredAt:   time.Now().UTC(),
	}

	o.logger.Error("order failed",
		zap.String("order_id", snap.ID),
		zap.String("class", string(report.Class)),
		zap.String("reason", reason))

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.Notify(ctx, report); err != nil {
			o.logger.Error("escalation delivery failed",
				zap.String("order_id", snap.ID),
				zap.Error(err))
		} else if m := o.deps.Metrics; m != nil {
			m.OrdersEscalated.Inc()
		}
	}
}

// expirePreview handles TTL eviction from the registry: the abandoned
// session is released and the order fails with escalation so it cannot
// silently vanish.
func (o *Orchestrator) expirePreview(orderID string, session *portal.Session) {
	o.releaseSession(session)
	if m := o.deps.Metrics; m != nil {
		m.PreviewsExpired.Inc()
	}

	ord, err := o.lookup(orderID)
	if err != nil {
		return
	}
	o.fail(context.Background(), ord, "preview confirmation window expired", o.snapshot(ord).PreviewRef)
}

func (o *Orchestrator) releaseSession(session *portal.Session) {
	session.Cleanup()
	if m := o.deps.Metrics; m != nil {
		m.ActiveSessions.Dec()
	}
}

func (o *Orchestrator) snapshot(ord *order.Order) order.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ord.Snapshot()
}

func (o *Orchestrator) status(ord *order.Order) order.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ord.Status()
}

func (o *Orchestrator) lookup(orderID string) (*order.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return ord, nil
}

// mutate applies a transition under the store lock, then persists audit
// events and publishes the new status. Persistence and publication are
// best-effort audit channels.
func (o *Orchestrator) mutate(ctx context.Context, ord *order.Order, fn func(*order.Order) error) error {
	o.mu.Lock()
	err := fn(ord)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.persist(ctx, ord)
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, ord *order.Order) order.Snapshot {
	o.mu.Lock()
	snap := ord.Snapshot()
	o.mu.Unlock()

	if o.deps.Events != nil {
		if err := o.deps.Events.Save(ctx, ord); err != nil {
			o.logger.Error("audit event persistence failed",
				zap.String("order_id", snap.ID),
				zap.Error(err))
		}
	}
	if o.deps.Statuses != nil {
		if err := o.deps.Statuses.PublishStatus(ctx, snap); err != nil {
			o.logger.Error("status publication failed",
				zap.String("order_id", snap.ID),
				zap.Error(err))
		}
	}
	return snap
}
