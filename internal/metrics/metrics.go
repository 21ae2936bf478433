// Package metrics exposes per-run counters for the ETL job.
//
// A batch job exits before anything could scrape it, so the registry is
// pushed to a Prometheus Pushgateway at the end of each run when one is set.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"elbetl/internal/elblog"
)

const namespace = "elb_etl"

type Metrics struct {
	Registry *prometheus.Registry

	ObjectsTotal  prometheus.Counter
	LinesTotal    prometheus.Counter
	ParsedTotal   prometheus.Counter
	RejectedTotal *prometheus.CounterVec
	InsertedTotal prometheus.Counter
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Gauge
	LastSuccess   prometheus.Gauge

	gateway string
	job     string
}

// Run is what one ETL run reports.
type Run struct {
	Objects  int
	Lines    int
	Parsed   int
	Rejected map[string]int
	Inserted int64
	Duration time.Duration
	Failed   bool
	Finished time.Time
}

// New registers the collectors on a fresh registry. gateway may be empty.
func New(gateway, job string) *Metrics {
	if job == "" {
		job = "elb_etl"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ObjectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "objects_total",
			Help: "Log objects read.",
		}),
		LinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lines_total",
			Help: "Log lines read.",
		}),
		ParsedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_parsed_total",
			Help: "Lines that produced a record.",
		}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "lines_rejected_total",
			Help: "Lines that produced no record, by reason.",
		}, []string{"reason"}),
		InsertedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_inserted_total",
			Help: "Rows appended to the target table.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help: "Duration of the last run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		gateway: gateway,
		job:     job,
	}
	reg.MustRegister(
		m.ObjectsTotal, m.LinesTotal, m.ParsedTotal, m.RejectedTotal,
		m.InsertedTotal, m.RunsTotal, m.RunDuration, m.LastSuccess,
	)
	// every reason is exported from the first push, at zero
	for _, r := range elblog.Reasons {
		m.RejectedTotal.WithLabelValues(string(r))
	}
	return m
}

func (m *Metrics) ObserveRun(r Run) {
	m.ObjectsTotal.Add(float64(r.Objects))
	m.LinesTotal.Add(float64(r.Lines))
	m.ParsedTotal.Add(float64(r.Parsed))
	for reason, n := range r.Rejected {
		m.RejectedTotal.WithLabelValues(reason).Add(float64(n))
	}
	m.InsertedTotal.Add(float64(r.Inserted))
	m.RunDuration.Set(r.Duration.Seconds())

	if r.Failed {
		m.RunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("success").Inc()
	m.LastSuccess.Set(float64(r.Finished.Unix()))
}

// Push sends the registry to the Pushgateway. It does nothing without one.
func (m *Metrics) Push(ctx context.Context) error {
	if m.gateway == "" {
		return nil
	}
	if err := push.New(m.gateway, m.job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", m.gateway, err)
	}
	return nil
}
