package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MZRMRB/trakr/telemetry"
)

// Status is the gateway's verdict on one ping.
type Status string

const (
	// StatusApplied: the ping advanced device state; alarms and route
	// geometry reflect it.
	StatusApplied Status = "applied"
	// StatusDuplicate: a ping with this (tag, device_time) already advanced
	// the watermark. No side effects.
	StatusDuplicate Status = "duplicate"
	// StatusLate: older than the watermark but not a duplicate. Kept for
	// audit storage only; never mutates state, alarms or segments.
	StatusLate Status = "late"
)

// Result is what one accepted ping did.
type Result struct {
	Status Status
	Alarms []Alarm
	Delta  *SegmentDelta
}

// AlarmSink receives fired alarms synchronously at the point of evaluation,
// so no alarm is lost if the process crashes before an async flush. The
// sink is expected to apply them idempotently on (tag_id, kind,
// triggered_at).
type AlarmSink interface {
	SaveAlarms(ctx context.Context, alarms []Alarm) error
}

// RouteSink receives segment open/extend/close deltas for upsert by
// segment ID.
type RouteSink interface {
	ApplySegmentDelta(ctx context.Context, d SegmentDelta) error
}

// AuditSink receives security-relevant rejections, which must not be
// silently dropped.
type AuditSink interface {
	RecordTenantMismatch(ctx context.Context, p telemetry.Ping, registeredOrg string) error
}

// Gateway is the single entry point of the pipeline. It validates,
// deduplicates and orders pings per tag, then drives the state store update
// followed by alarm evaluation and route aggregation in a fixed sequence,
// so both see the same consistent transition.
//
// Processing for one tag is serialized behind a per-tag mutex; distinct tags
// proceed fully in parallel.
type Gateway struct {
	registry Registry
	rules    RuleProvider
	zones    *GeofenceIndex
	states   *StateStore

	alarmSink AlarmSink
	routeSink RouteSink
	audit     AuditSink

	eval Evaluator
	agg  Aggregator

	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGateway(
	registry Registry,
	rules RuleProvider,
	zones *GeofenceIndex,
	states *StateStore,
	alarmSink AlarmSink,
	routeSink RouteSink,
	audit AuditSink,
) *Gateway {
	return &Gateway{
		registry:  registry,
		rules:     rules,
		zones:     zones,
		states:    states,
		alarmSink: alarmSink,
		routeSink: routeSink,
		audit:     audit,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Ingest processes a single ping. Rejections return an error from the
// taxonomy in errors.go; everything else returns a Result. The failure unit
// is this one ping: errors never poison other tags or later pings.
func (g *Gateway) Ingest(ctx context.Context, p telemetry.Ping) (Result, error) {
	if err := p.Valid(); err != nil {
		pingsRejected.WithLabelValues("invalid").Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidTelemetry, err)
	}

	registeredOrg, err := g.registry.ResolveTag(ctx, p.TagID)
	if err != nil {
		pingsRejected.WithLabelValues("unknown_tag").Inc()
		return Result{}, fmt.Errorf("tag %q: %w", p.TagID, err)
	}
	if registeredOrg != p.OrgID {
		pingsRejected.WithLabelValues("tenant_mismatch").Inc()
		if auditErr := g.audit.RecordTenantMismatch(ctx, p, registeredOrg); auditErr != nil {
			slog.Error("tenant mismatch audit failed", "tag_id", p.TagID, "error", auditErr)
		}
		return Result{}, fmt.Errorf("tag %q registered to %q, ping claims %q: %w",
			p.TagID, registeredOrg, p.OrgID, ErrTenantMismatch)
	}

	lock := g.lockFor(p.TagID)
	lock.Lock()
	defer lock.Unlock()

	res, err := g.apply(ctx, p)
	if errors.Is(err, ErrStaleState) {
		// Lost a race despite the per-tag lock (a future concurrency change
		// could introduce one): re-read and recompute once.
		stateRetries.Inc()
		res, err = g.apply(ctx, p)
		if errors.Is(err, ErrStaleState) {
			// Recurring race: treat as a late arrival and stop mutating.
			res, err = Result{Status: StatusLate}, nil
		}
	}
	if err != nil {
		return Result{}, err
	}

	pingsIngested.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// apply runs one read-compute-commit cycle under the per-tag lock.
func (g *Gateway) apply(ctx context.Context, p telemetry.Ping) (Result, error) {
	old, known := g.states.Get(p.TagID)
	var expected uint64
	if known {
		expected = old.Version()
		if p.DeviceTime.Equal(old.Watermark) {
			return Result{Status: StatusDuplicate}, nil
		}
		if p.DeviceTime.Before(old.Watermark) {
			return Result{Status: StatusLate}, nil
		}
	} else {
		old = newDeviceState(p.TagID, p.OrgID)
	}

	next := old.clone()
	next.LastPing = p
	next.Watermark = p.DeviceTime

	zonesNow := g.zones.ZonesContaining(p.OrgID, p.Lat, p.Lon)
	rules, configured := g.rules.RulesFor(ctx, p.OrgID, p.TagID)

	var alarms []Alarm
	if configured {
		alarms = g.eval.Evaluate(rules, zonesNow, old, next, p)
	} else {
		// Missing configuration fails open: no alarms, but containment is
		// still tracked and routes aggregate on system defaults.
		next.Zones = zonesNow
		rules = DefaultRules
	}
	delta := g.agg.Aggregate(rules, next, p)

	if err := g.states.CompareAndSwap(p.TagID, expected, next); err != nil {
		return Result{}, err
	}

	// Committed. Emit alarms and route geometry together, still under the
	// tag lock, so downstream observes both or neither before the next ping.
	if len(alarms) > 0 {
		if err := g.alarmSink.SaveAlarms(ctx, alarms); err != nil {
			slog.Error("alarm sink failed", "tag_id", p.TagID, "count", len(alarms), "error", err)
		}
		for _, a := range alarms {
			alarmsFired.WithLabelValues(string(a.Kind)).Inc()
		}
	}
	if delta != nil {
		if err := g.routeSink.ApplySegmentDelta(ctx, *delta); err != nil {
			slog.Error("route sink failed", "tag_id", p.TagID, "error", err)
		}
		if delta.Open != nil && len(delta.Open.Waypoints) == 1 {
			segmentsOpened.Inc()
		}
		if delta.Closed != nil {
			segmentsClosed.Inc()
		}
	}

	return Result{Status: StatusApplied, Alarms: alarms, Delta: delta}, nil
}

// Outcome pairs a Result with the rejection error, if any, for one ping of
// a batch.
type Outcome struct {
	Result Result
	Err    error
}

// IngestBatch processes a batch, serializing per tag and fanning tags out
// concurrently. Outcomes are positionally aligned with the input.
func (g *Gateway) IngestBatch(ctx context.Context, pings []telemetry.Ping) []Outcome {
	outcomes := make([]Outcome, len(pings))

	byTag := make(map[string][]int)
	var tags []string
	for i, p := range pings {
		if _, ok := byTag[p.TagID]; !ok {
			tags = append(tags, p.TagID)
		}
		byTag[p.TagID] = append(byTag[p.TagID], i)
	}

	var wg sync.WaitGroup
	for _, tag := range tags {
		idxs := byTag[tag]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range idxs {
				res, err := g.Ingest(ctx, pings[i])
				outcomes[i] = Outcome{Result: res, Err: err}
			}
		}()
	}
	wg.Wait()

	return outcomes
}

func (g *Gateway) lockFor(tagID string) *sync.Mutex {
	g.lmu.Lock()
	defer g.lmu.Unlock()
	l, ok := g.locks[tagID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[tagID] = l
	}
	return l
}
