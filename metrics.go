package convosync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity. A nil *Metrics records nothing.
type Metrics struct {
	Reloads      *prometheus.CounterVec
	LoadDuration *prometheus.HistogramVec
	LiveEvents   *prometheus.CounterVec
	Sends        *prometheus.CounterVec
	StaleResults *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them on reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convosync_reloads_total",
				Help: "Total number of cache reloads by outcome",
			},
			[]string{"cache", "outcome"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convosync_load_duration_seconds",
				Help:    "Duration of cache loads in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"cache"},
		),
		LiveEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convosync_live_events_total",
				Help: "Total number of live message events by routing scope",
			},
			[]string{"scope"},
		),
		Sends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convosync_sends_total",
				Help: "Total number of composer sends by outcome",
			},
			[]string{"outcome"},
		),
		StaleResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convosync_stale_results_total",
				Help: "Total number of load results discarded as stale",
			},
			[]string{"cache"},
		),
	}
}

const (
	cacheConversations = "conversations"
	cacheMessages      = "messages"

	outcomeOK    = "ok"
	outcomeError = "error"

	scopeSelected = "selected"
	scopeOther    = "other"
	scopeResync   = "resync"
)

func (m *Metrics) observeLoad(cache string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.LoadDuration.WithLabelValues(cache).Observe(time.Since(started).Seconds())
	switch {
	case err == nil:
		m.Reloads.WithLabelValues(cache, outcomeOK).Inc()
	case err == ErrStaleResult:
		m.StaleResults.WithLabelValues(cache).Inc()
	default:
		m.Reloads.WithLabelValues(cache, outcomeError).Inc()
	}
}

func (m *Metrics) liveEvent(scope string) {
	if m == nil {
		return
	}
	m.LiveEvents.WithLabelValues(scope).Inc()
}

func (m *Metrics) send(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Sends.WithLabelValues(outcomeError).Inc()
		return
	}
	m.Sends.WithLabelValues(outcomeOK).Inc()
}
