// Package metrics exposes labeled counters for every error kind (fatal
// session, recoverable flow, recoverable record, advisory), each
// incrementing a prometheus.CounterVec accessible through the read-side
// API.
package metrics

import (
	"sync"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fatalSession = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_fatal_session_total",
			Help: "Fatal session errors that terminated the capture session.",
		},
		[]string{"reason"},
	)

	recoverableFlow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_recoverable_flow_total",
			Help: "Flow-scoped errors that caused a flow to be dropped.",
		},
		[]string{"reason"},
	)

	recoverableRecord = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_recoverable_record_total",
			Help: "Record-scoped errors that caused a record to be skipped.",
		},
		[]string{"reason"},
	)

	advisory = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_advisory_total",
			Help: "Advisory conditions that were counted but did not interrupt processing.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(fatalSession, recoverableFlow, recoverableRecord, advisory)
}

// IncFatalSession increments the fatal-session counter for reason.
func IncFatalSession(reason string) { fatalSession.WithLabelValues(reason).Inc() }

// IncRecoverableFlow increments the recoverable-flow counter for reason.
func IncRecoverableFlow(reason string) { recoverableFlow.WithLabelValues(reason).Inc() }

// IncRecoverableRecord increments the recoverable-record counter for reason.
func IncRecoverableRecord(reason string) { recoverableRecord.WithLabelValues(reason).Inc() }

// IncAdvisory increments the advisory counter for reason.
func IncAdvisory(reason string) { advisory.WithLabelValues(reason).Inc() }

// Snapshot is a point-in-time read of every counter, returned to the
// read-side API so consumers can display error counts without scraping
// the prometheus text endpoint.
type Snapshot struct {
	FatalSession      map[string]float64 `json:"fatalSession"`
	RecoverableFlow   map[string]float64 `json:"recoverableFlow"`
	RecoverableRecord map[string]float64 `json:"recoverableRecord"`
	Advisory          map[string]float64 `json:"advisory"`
}

var snapMu sync.Mutex

// Read collects the current values of every labeled counter.
func Read() Snapshot {
	snapMu.Lock()
	defer snapMu.Unlock()

	return Snapshot{
		FatalSession:      collect(fatalSession),
		RecoverableFlow:   collect(recoverableFlow),
		RecoverableRecord: collect(recoverableRecord),
		Advisory:          collect(advisory),
	}
}

func collect(vec *prometheus.CounterVec) map[string]float64 {
	out := make(map[string]float64)

	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()

	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}

		label := "unknown"
		for _, lp := range pb.Label {
			if lp.GetName() == "reason" {
				label = lp.GetValue()
			}
		}

		out[label] = pb.GetCounter().GetValue()
	}

	return out
}
