// Package metrics exposes operational counters as a prometheus.Collector,
// gathered from the components that already track them rather than from
// package-level counter variables.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallProvider exposes the orchestrator's cumulative call counters.
type CallProvider interface {
	Stats() (callsCreated, originatesIssued, ringTimeouts int64)
}

// PushProvider exposes the push dispatcher's cumulative delivery counters.
type PushProvider interface {
	Stats() (sent, failed int64)
}

// JanitorProvider exposes the janitor's cumulative sweep counters.
type JanitorProvider interface {
	Stats() (sweepDeletions, retryAttempts int64)
}

// Collector is a prometheus.Collector that gathers doorbridge metrics at
// scrape time.
type Collector struct {
	calls     CallProvider
	push      PushProvider
	janitor   JanitorProvider
	startTime time.Time

	callsCreatedDesc     *prometheus.Desc
	originatesIssuedDesc *prometheus.Desc
	ringTimeoutsDesc     *prometheus.Desc
	pushSentDesc         *prometheus.Desc
	pushFailedDesc       *prometheus.Desc
	sweepDeletionsDesc   *prometheus.Desc
	retryAttemptsDesc    *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(calls CallProvider, push PushProvider, janitor JanitorProvider, startTime time.Time) *Collector {
	return &Collector{
		calls:     calls,
		push:      push,
		janitor:   janitor,
		startTime: startTime,

		callsCreatedDesc: prometheus.NewDesc(
			"doorbridge_calls_created_total",
			"Total number of Calls created from an application-start event",
			nil, nil,
		),
		originatesIssuedDesc: prometheus.NewDesc(
			"doorbridge_originates_issued_total",
			"Total number of outbound originate attempts that succeeded",
			nil, nil,
		),
		ringTimeoutsDesc: prometheus.NewDesc(
			"doorbridge_ring_timeouts_total",
			"Total number of Calls closed by the ring timer before being answered",
			nil, nil,
		),
		pushSentDesc: prometheus.NewDesc(
			"doorbridge_push_sent_total",
			"Total number of push notifications delivered successfully",
			nil, nil,
		),
		pushFailedDesc: prometheus.NewDesc(
			"doorbridge_push_failed_total",
			"Total number of push notification delivery attempts that failed",
			nil, nil,
		),
		sweepDeletionsDesc: prometheus.NewDesc(
			"doorbridge_janitor_sweep_deletions_total",
			"Total number of disposable endpoint rows deleted by the stale-endpoint sweep",
			nil, nil,
		),
		retryAttemptsDesc: prometheus.NewDesc(
			"doorbridge_janitor_retry_attempts_total",
			"Total number of pending-originate retry attempts made by the fallback poller",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"doorbridge_uptime_seconds",
			"Seconds since the doorbridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.callsCreatedDesc
	ch <- c.originatesIssuedDesc
	ch <- c.ringTimeoutsDesc
	ch <- c.pushSentDesc
	ch <- c.pushFailedDesc
	ch <- c.sweepDeletionsDesc
	ch <- c.retryAttemptsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time; unlike the realtime-store-backed providers this pattern is
// grounded on, none of these do network I/O, so no context deadline is
// needed here.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.calls != nil {
		created, originated, timeouts := c.calls.Stats()
		ch <- prometheus.MustNewConstMetric(c.callsCreatedDesc, prometheus.CounterValue, float64(created))
		ch <- prometheus.MustNewConstMetric(c.originatesIssuedDesc, prometheus.CounterValue, float64(originated))
		ch <- prometheus.MustNewConstMetric(c.ringTimeoutsDesc, prometheus.CounterValue, float64(timeouts))
	}

	if c.push != nil {
		sent, failed := c.push.Stats()
		ch <- prometheus.MustNewConstMetric(c.pushSentDesc, prometheus.CounterValue, float64(sent))
		ch <- prometheus.MustNewConstMetric(c.pushFailedDesc, prometheus.CounterValue, float64(failed))
	}

	if c.janitor != nil {
		deletions, retries := c.janitor.Stats()
		ch <- prometheus.MustNewConstMetric(c.sweepDeletionsDesc, prometheus.CounterValue, float64(deletions))
		ch <- prometheus.MustNewConstMetric(c.retryAttemptsDesc, prometheus.CounterValue, float64(retries))
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
