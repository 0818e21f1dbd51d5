// Package metrics exports orchestrator counters and durations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements domain.Metrics on its own registry.
type Prometheus struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	superseded  prometheus.Counter
	runs        *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func New() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_events_total",
			Help: "Trigger events by type and admission outcome.",
		}, []string{"type", "outcome"}),
		superseded: f.NewCounter(prometheus.CounterOpts{
			Name: "ci_runs_superseded_total",
			Help: "Runs cancelled because a newer run took their concurrency group.",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_runs_finished_total",
			Help: "Finished runs by final status.",
		}, []string{"status"}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ci_jobs_finished_total",
			Help: "Finished jobs by name and final status.",
		}, []string{"job", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ci_job_duration_seconds",
			Help:    "Wall time of jobs from start to end.",
			Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"job"}),
	}
}

func (p *Prometheus) EventAdmitted(t domain.EventType) {
	p.events.WithLabelValues(eventLabel(t), "admitted").Inc()
}

func (p *Prometheus) EventRejected(t domain.EventType) {
	p.events.WithLabelValues(eventLabel(t), "rejected").Inc()
}

// eventLabel keeps the type label bounded; event types come from clients.
func eventLabel(t domain.EventType) string {
	switch t {
	case domain.EventPush, domain.EventPullRequest:
		return string(t)
	default:
		return "other"
	}
}

func (p *Prometheus) RunSuperseded() { p.superseded.Inc() }

func (p *Prometheus) RunFinished(status domain.RunStatus) {
	p.runs.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) JobFinished(job string, status domain.JobStatus, d time.Duration) {
	p.jobs.WithLabelValues(job, string(status)).Inc()
	if d > 0 {
		p.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}
