package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trakr_pings_ingested_total",
		Help: "Pings processed by the gateway, by outcome",
	}, []string{"status"})

	pingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trakr_pings_rejected_total",
		Help: "Pings rejected before reaching the state store, by reason",
	}, []string{"reason"})

	alarmsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trakr_alarms_fired_total",
		Help: "Alarms emitted by the evaluator, by kind",
	}, []string{"kind"})

	segmentsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trakr_segments_opened_total",
		Help: "Route segments opened",
	})

	segmentsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trakr_segments_closed_total",
		Help: "Route segments closed and persisted",
	})

	segmentsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trakr_segments_discarded_total",
		Help: "Closed segments dropped for having fewer than two waypoints",
	})

	stateRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trakr_state_cas_retries_total",
		Help: "Optimistic commits retried after losing a race",
	})
)
