// Package metrics records engine metrics in Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements port.Metrics using Prometheus.
type Recorder struct {
	quoteLookups    *prometheus.CounterVec
	upstreamFetches *prometheus.CounterVec
	malformed       *prometheus.CounterVec
	nonCanonical    *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	unpriced        *prometheus.GaugeVec
}

// New creates a Recorder registered on reg. A nil reg means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		quoteLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_sync_quote_lookups_total",
				Help: "Quote cache lookups by outcome (fresh, stale, miss)",
			},
			[]string{"outcome"},
		),
		upstreamFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_sync_upstream_fetches_total",
				Help: "Upstream calls by source and result",
			},
			[]string{"source", "result"},
		),
		malformed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_sync_malformed_records_total",
				Help: "Records that failed to decode, by kind",
			},
			[]string{"kind"},
		),
		nonCanonical: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_sync_noncanonical_accounts_total",
				Help: "Owner token accounts at a non-associated address, by whether the mint has an associated account",
			},
			[]string{"mint_covered"},
		),
		pollDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_sync_poll_duration_seconds",
				Help:    "Duration of scheduled refreshes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
		unpriced: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portfolio_sync_unpriced_holdings",
				Help: "Holdings without a resolvable quote in the latest snapshot",
			},
			[]string{"owner"},
		),
	}
}

// QuoteLookup records a cache lookup outcome.
func (r *Recorder) QuoteLookup(outcome string) {
	r.quoteLookups.WithLabelValues(outcome).Inc()
}

// UpstreamFetch records one upstream call.
func (r *Recorder) UpstreamFetch(source string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.upstreamFetches.WithLabelValues(source, result).Inc()
}

// MalformedRecord records a record that could not be decoded.
func (r *Recorder) MalformedRecord(kind string) {
	r.malformed.WithLabelValues(kind).Inc()
}

// NonCanonicalAccount records a token account skipped for not being the associated account.
func (r *Recorder) NonCanonicalAccount(mintCovered bool) {
	r.nonCanonical.WithLabelValues(strconv.FormatBool(mintCovered)).Inc()
}

// PollDuration records how long a scheduled refresh took.
func (r *Recorder) PollDuration(resource string, d time.Duration) {
	r.pollDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// UnpricedHoldings sets the unpriced holding count for owner.
func (r *Recorder) UnpricedHoldings(owner string, n int) {
	r.unpriced.WithLabelValues(owner).Set(float64(n))
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) QuoteLookup(string)                 {}
func (Nop) UpstreamFetch(string, bool)         {}
func (Nop) MalformedRecord(string)             {}
func (Nop) NonCanonicalAccount(bool)           {}
func (Nop) PollDuration(string, time.Duration) {}
func (Nop) UnpricedHoldings(string, int)       {}
