package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prdgen"

type Metrics struct {
	// Generations is labelled by operation (generate, refine) and outcome
	// (ok or an error kind).
	Generations           *prometheus.CounterVec
	GenerationSeconds     *prometheus.HistogramVec
	StreamFragments       prometheus.Counter
	MalformedFrames       prometheus.Counter
	PersistFailures       prometheus.Counter
	CredentialResolutions *prometheus.CounterVec
	RateLimited           *prometheus.CounterVec

	EnqueuedJobs  prometheus.Counter
	ProcessedJobs prometheus.Counter
	FailedJobs    prometheus.Counter
	UpdatesTotal  prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "PRD generations by operation and outcome",
			}, []string{"op", "outcome"}),
			GenerationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of a generation from request to last fragment",
				Buckets:   []float64{1, 5, 10, 20, 40, 80, 160, 320},
			}, []string{"op", "provider"}),
			StreamFragments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_fragments_total",
				Help:      "Text fragments forwarded from provider streams",
			}),
			MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_malformed_frames_total",
				Help:      "Stream frames skipped because they could not be parsed",
			}),
			PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Completed PRDs that could not be saved",
			}),
			CredentialResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_resolutions_total",
				Help:      "Resolved credentials by scope and provider",
			}, []string{"scope", "provider"}),
			RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the local per-caller limit",
			}, []string{"surface"}),
			EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_enqueued_total",
				Help:      "Total jobs enqueued to redis stream",
			}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_processed_total",
				Help:      "Total jobs successfully processed",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_failed_total",
				Help:      "Total jobs failed during processing",
			}),
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
		}
		prometheus.MustRegister(
			global.Generations,
			global.GenerationSeconds,
			global.StreamFragments,
			global.MalformedFrames,
			global.PersistFailures,
			global.CredentialResolutions,
			global.RateLimited,
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
			global.UpdatesTotal,
		)
	})
	return global
}
