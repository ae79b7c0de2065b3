package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

const (
	defaultDispatchWorkers   = 8
	defaultDeadLetterAfter   = 3
	defaultRepositoryTimeout = 5 * time.Second
	tracerName               = "github.com/rl1809/stockbridge/dispatcher"
)

// Event outcomes reported to DispatchMetrics.
const (
	OutcomeProcessed    = "processed"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDeferred     = "deferred"
)

// DispatcherConfig controls one dispatcher.
type DispatcherConfig struct {
	// Workers is the max number of entity groups handled at the same time.
	Workers int
	// DeadLetterAfter is how many NotSupported failures an event may collect
	// before it is marked processed with its error.
	DeadLetterAfter int
	// RepositoryTimeout bounds every event log call.
	RepositoryTimeout time.Duration
}

func (cfg *DispatcherConfig) normalize() {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultDispatchWorkers
	}
	if cfg.DeadLetterAfter <= 0 {
		cfg.DeadLetterAfter = defaultDeadLetterAfter
	}
	if cfg.RepositoryTimeout <= 0 {
		cfg.RepositoryTimeout = defaultRepositoryTimeout
	}
}

type dispatcherOptions struct {
	cfg     DispatcherConfig
	metrics port.DispatchMetrics
	tracer  trace.Tracer
}

// DispatcherOption mutates dispatcher configuration at construction.
type DispatcherOption func(*dispatcherOptions)

func WithDispatcherConfig(cfg DispatcherConfig) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.cfg = cfg
	}
}

func WithDispatchMetrics(metrics port.DispatchMetrics) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(o *dispatcherOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// DispatchResult captures one dispatch cycle outcome.
type DispatchResult struct {
	Fetched      int
	Processed    int
	Failed       int
	DeadLettered int
	// Deferred counts events left behind a failed event of the same entity.
	Deferred int
}

func (r *DispatchResult) add(other DispatchResult) {
	r.Processed += other.Processed
	r.Failed += other.Failed
	r.DeadLettered += other.DeadLettered
	r.Deferred += other.Deferred
}

// HandlerFunc applies one event.
type HandlerFunc[E domain.Event] func(ctx context.Context, event E) error

// Dispatcher delivers the unprocessed events of one event log at least once.
// Events of the same entity are applied strictly in creation order; a failed
// event holds back the rest of its entity until the next cycle, while other
// entities carry on.
type Dispatcher[E domain.Event] struct {
	name    string
	events  port.EventLog[E]
	handle  HandlerFunc[E]
	logger  *zap.Logger
	metrics port.DispatchMetrics
	tracer  trace.Tracer
	cfg     DispatcherConfig
}

func NewDispatcher[E domain.Event](
	name string,
	events port.EventLog[E],
	handle HandlerFunc[E],
	logger *zap.Logger,
	opts ...DispatcherOption,
) *Dispatcher[E] {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := dispatcherOptions{tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.cfg.normalize()

	return &Dispatcher[E]{
		name:    name,
		events:  events,
		handle:  handle,
		logger:  logger.With(zap.String("component", "dispatcher"), zap.String("dispatcher", name)),
		metrics: o.metrics,
		tracer:  o.tracer,
		cfg:     o.cfg,
	}
}

// NewStorageDispatcher dispatches storage-bound events to h.
func NewStorageDispatcher(
	events port.StorageEventLog,
	h domain.StorageEventHandler,
	logger *zap.Logger,
	opts ...DispatcherOption,
) *Dispatcher[domain.StorageEvent] {
	handle := func(ctx context.Context, event domain.StorageEvent) error {
		return event.Dispatch(ctx, h)
	}
	return NewDispatcher("storage", events, handle, logger, opts...)
}

// NewCatalogDispatcher dispatches catalogue-bound events to h.
func NewCatalogDispatcher(
	events port.CatalogEventLog,
	h domain.CatalogEventHandler,
	logger *zap.Logger,
	opts ...DispatcherOption,
) *Dispatcher[domain.CatalogEvent] {
	handle := func(ctx context.Context, event domain.CatalogEvent) error {
		return event.Dispatch(ctx, h)
	}
	return NewDispatcher("catalog", events, handle, logger, opts...)
}

func (d *Dispatcher[E]) Name() string {
	return d.name
}

// RunOnce runs one dispatch cycle. The returned error is an event log
// failure: either the fetch failed, or handled events could not be marked
// processed and will be delivered again. Handler failures only show in the
// result, which stays valid next to a marking error.
func (d *Dispatcher[E]) RunOnce(ctx context.Context) (DispatchResult, error) {
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "dispatcher.run_once", trace.WithAttributes(attribute.String("dispatcher", d.name)))
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.RepositoryTimeout)
	events, err := d.events.GetUnprocessedOrderedByCreationTime(fetchCtx)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch unprocessed events")
		return DispatchResult{}, fmt.Errorf("fetch unprocessed %s events: %w", d.name, err)
	}

	result := DispatchResult{Fetched: len(events)}
	if d.metrics != nil {
		d.metrics.SetBacklog(d.name, len(events))
	}

	var (
		mu       sync.Mutex
		g        errgroup.Group
		markErrs []error
	)
	g.SetLimit(d.cfg.Workers)

	for _, group := range groupByEntity(events) {
		g.Go(func() error {
			groupResult, markErr := d.processGroup(ctx, group)

			mu.Lock()
			result.add(groupResult)
			if markErr != nil {
				markErrs = append(markErrs, markErr)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("dispatch.fetched", result.Fetched),
		attribute.Int("dispatch.processed", result.Processed),
		attribute.Int("dispatch.failed", result.Failed),
		attribute.Int("dispatch.dead_lettered", result.DeadLettered),
		attribute.Int("dispatch.deferred", result.Deferred),
	)
	d.record(result, time.Since(start))

	if err := errors.Join(markErrs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark events processed")
		return result, fmt.Errorf("mark %s events processed: %w", d.name, err)
	}

	if result.Fetched > 0 {
		d.logger.Debug("dispatch cycle finished",
			zap.Int("fetched", result.Fetched),
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
			zap.Int("dead_lettered", result.DeadLettered),
			zap.Int("deferred", result.Deferred),
		)
	}

	return result, nil
}

// groupByEntity partitions events by entity key. Groups keep the order of
// their first event and every group is sorted by creation time, ties kept in
// fetch order.
func groupByEntity[E domain.Event](events []E) [][]E {
	index := make(map[string]int)
	var groups [][]E
	for _, event := range events {
		key := event.EntityKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], event)
	}
	for _, group := range groups {
		slices.SortStableFunc(group, func(a, b E) int {
			return a.Metadata().CreatedAt.Compare(b.Metadata().CreatedAt)
		})
	}
	return groups
}

// processGroup applies one entity's events in order. The error reports an
// event that was handled but could not be marked processed.
func (d *Dispatcher[E]) processGroup(ctx context.Context, group []E) (result DispatchResult, markErr error) {
	for i, event := range group {
		if ctx.Err() != nil {
			result.Deferred += len(group) - i
			return result, nil
		}

		logger := d.logger.With(
			zap.String("event_id", event.Metadata().ID),
			zap.String("event_type", event.EventType()),
			zap.String("entity_key", event.EntityKey()),
		)

		err := d.safeHandle(ctx, event)
		if errors.Is(err, domain.ErrDuplicateResource) {
			logger.Info("storage system already has the resource, treating as delivered", zap.Error(err))
			err = nil
		}

		switch {
		case err == nil:
			if err := d.markProcessed(ctx, event); err != nil {
				logger.Error("event handled but could not be marked processed", zap.Error(err))
				result.Failed++
				result.Deferred += len(group) - i - 1
				return result, fmt.Errorf("event %s: %w", event.Metadata().ID, err)
			}
			result.Processed++

		case errors.Is(err, domain.ErrNotSupported) && !errors.Is(err, domain.ErrStorageSystem):
			if d.deadLetter(ctx, logger, event, err) {
				result.DeadLettered++
				continue
			}
			result.Failed++
			result.Deferred += len(group) - i - 1
			return result, nil

		default:
			logger.Warn("event handling failed, will retry next cycle", zap.Error(err))
			d.recordFailure(ctx, logger, event, err)
			result.Failed++
			result.Deferred += len(group) - i - 1
			return result, nil
		}
	}
	return result, nil
}

// safeHandle turns a handler panic into a failure of that event.
func (d *Dispatcher[E]) safeHandle(ctx context.Context, event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", domain.ErrStorageSystem, r)
		}
	}()

	ctx, span := d.tracer.Start(ctx, "dispatcher.handle", trace.WithAttributes(
		attribute.String("event.id", event.Metadata().ID),
		attribute.String("event.type", event.EventType()),
	))
	defer span.End()

	if err = d.handle(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle event")
	}
	return err
}

func (d *Dispatcher[E]) markProcessed(ctx context.Context, event E) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RepositoryTimeout)
	defer cancel()

	_, err := d.events.MarkProcessed(ctx, event)
	return err
}

func (d *Dispatcher[E]) recordFailure(ctx context.Context, logger *zap.Logger, event E, cause error) (E, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RepositoryTimeout)
	defer cancel()

	updated, err := d.events.RecordFailure(ctx, event, cause.Error())
	if err != nil {
		logger.Error("failed to record event failure", zap.Error(err))
		return event, false
	}
	return updated, true
}

// deadLetter records a NotSupported failure and, once the event has failed
// DeadLetterAfter times, marks it processed with the error.
func (d *Dispatcher[E]) deadLetter(ctx context.Context, logger *zap.Logger, event E, cause error) bool {
	attempts := event.Metadata().Attempts + 1
	if updated, ok := d.recordFailure(ctx, logger, event, cause); ok {
		attempts = updated.Metadata().Attempts
	}

	if attempts < d.cfg.DeadLetterAfter {
		logger.Warn("event not supported by any storage system, will retry next cycle",
			zap.Int("attempts", attempts),
			zap.Int("dead_letter_after", d.cfg.DeadLetterAfter),
			zap.Error(cause),
		)
		return false
	}

	markCtx, cancel := context.WithTimeout(ctx, d.cfg.RepositoryTimeout)
	defer cancel()

	if _, err := d.events.MarkDeadLettered(markCtx, event, cause.Error()); err != nil {
		logger.Error("failed to dead-letter event", zap.Error(err))
		return false
	}

	logger.Error("event dead-lettered", zap.Int("attempts", attempts), zap.Error(cause))
	return true
}

func (d *Dispatcher[E]) record(result DispatchResult, duration time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.ObserveCycle(d.name, duration)
	d.metrics.AddEvents(d.name, OutcomeProcessed, result.Processed)
	d.metrics.AddEvents(d.name, OutcomeFailed, result.Failed)
	d.metrics.AddEvents(d.name, OutcomeDeadLettered, result.DeadLettered)
	d.metrics.AddEvents(d.name, OutcomeDeferred, result.Deferred)
}
