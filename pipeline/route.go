package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"callpipe/logger"
	"callpipe/metrics"
	"callpipe/models"
)

const routedMessage = "Data routed successfully"

// Sink is a storage destination for routed calls.
type Sink interface {
	Save(ctx context.Context, call models.NormalizedCall) error
	Get(ctx context.Context, source, callID string) (models.NormalizedCall, error)
	List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error)
}

// Router persists normalized calls to the sink configured for their source.
type Router struct {
	sinks    map[string]Sink
	routes   map[string]string
	fallback string
	notifier Notifier
	now      func() time.Time
}

// NewRouter builds a router. routes maps source names (any case) to sink
// names; sources without a route go to fallback.
func NewRouter(sinks map[string]Sink, routes map[string]string, fallback string) *Router {
	r := &Router{
		sinks:    sinks,
		routes:   make(map[string]string, len(routes)),
		fallback: fallback,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for source, sink := range routes {
		r.routes[strings.ToLower(strings.TrimSpace(source))] = sink
	}
	return r
}

// SetNotifier registers the receiver of routed calls.
func (r *Router) SetNotifier(n Notifier) { r.notifier = n }

// SinkFor resolves the sink serving source.
func (r *Router) SinkFor(source string) (string, Sink, error) {
	name, ok := r.routes[strings.ToLower(source)]
	if !ok {
		name = r.fallback
	}
	sink, ok := r.sinks[name]
	if !ok || sink == nil {
		return "", nil, fmt.Errorf("%w for source %q", ErrNoSink, source)
	}
	return name, sink, nil
}

// Run routes one JSON call record. Raw records are normalized first.
func (r *Router) Run(ctx context.Context, payload string) (Result, error) {
	var in models.NormalizedCall
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		return fail(StageRoute, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	call := Normalize(in.CallRecord)
	if err := requireCallID(call.CallRecord); err != nil {
		return fail(StageRoute, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	call.IngestID = in.IngestID
	call.ReceivedAt = in.ReceivedAt
	call.TransformedAt = in.TransformedAt
	call.RoutedAt = r.now()

	name, sink, err := r.SinkFor(call.Source)
	if err != nil {
		logger.Error("no sink for source", err, logger.FieldKV("source", call.Source))
		return fail(StageRoute, err)
	}
	if err := sink.Save(ctx, call); err != nil {
		logger.Error("route persist failed", err,
			logger.FieldKV("call_id", call.CallID),
			logger.FieldKV("source", call.Source),
			logger.FieldKV("sink", name))
		return fail(StageRoute, fmt.Errorf("%w: %v", ErrPersist, err))
	}

	metrics.IncRouted(call.Source, name)
	if r.notifier != nil {
		r.notifier.Broadcast(call)
	}
	logger.Info("call routed",
		logger.FieldKV("call_id", call.CallID),
		logger.FieldKV("source", call.Source),
		logger.FieldKV("sink", name))
	return OK(routedMessage), nil
}

// Get fetches a routed call from the sink serving source.
func (r *Router) Get(ctx context.Context, source, callID string) (models.NormalizedCall, error) {
	source = models.CanonicalSource(source)
	_, sink, err := r.SinkFor(source)
	if err != nil {
		return models.NormalizedCall{}, err
	}
	return sink.Get(ctx, source, callID)
}

// List returns routed calls, newest first. An empty source lists every sink.
func (r *Router) List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error) {
	if source != "" {
		source = models.CanonicalSource(source)
		_, sink, err := r.SinkFor(source)
		if err != nil {
			return nil, err
		}
		return sink.List(ctx, source, limit)
	}

	var all []models.NormalizedCall
	for _, name := range r.sinkNames() {
		calls, err := r.sinks[name].List(ctx, "", limit)
		if err != nil {
			return nil, fmt.Errorf("list sink %s: %w", name, err)
		}
		all = append(all, calls...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].RoutedAt.After(all[j].RoutedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Ping checks every sink that supports it.
func (r *Router) Ping(ctx context.Context) error {
	var errs []error
	for _, name := range r.sinkNames() {
		if p, ok := r.sinks[name].(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("sink %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Router) sinkNames() []string {
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
