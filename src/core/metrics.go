package main

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Input metrics
	linesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustengine_lines_total",
		Help: "Total number of trace lines read",
	})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustengine_records_total",
		Help: "Total number of parsed trace records by kind",
	}, []string{"kind"})

	malformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustengine_malformed_records_total",
		Help: "Total number of tagged lines discarded because a field failed to parse",
	}, []string{"kind"})

	// Trust metrics
	nodeTrustGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trustengine_node_trust",
		Help: "Current trust value per relaying node",
	}, []string{"node"})

	blacklistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustengine_blacklisted_nodes_total",
		Help: "Total number of nodes latched into the blacklist",
	})

	// Exposure metrics
	interceptionGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustengine_e1_percent",
		Help: "Percentage of delivered packets that transited the attacker",
	})

	attackerParentGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustengine_e3_percent",
		Help: "Percentage of joined parent samples whose parent was the attacker",
	})

	parentSwitchRateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustengine_parent_switch_rate",
		Help: "Aggregate preferred-parent switch rate across all nodes",
	})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustengine_http_requests_total",
		Help: "Total number of status API requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustengine_http_request_duration_seconds",
		Help:    "Duration of status API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RecordLine counts one line read from the source
func RecordLine() {
	linesTotal.Inc()
}

// RecordParsed counts a parsed record, or a discarded one when malformed
func RecordParsed(kind RecordKind, malformed bool) {
	if malformed {
		malformedTotal.WithLabelValues(string(kind)).Inc()
		return
	}
	recordsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordTrustUpdate publishes a node's trust and counts new blacklistings
func RecordTrustUpdate(up TrustUpdate) {
	nodeTrustGauge.WithLabelValues(strconv.Itoa(int(up.Node))).Set(up.Trust)
	if up.NewlyBlacklisted {
		blacklistedTotal.Inc()
	}
}

// UpdateExposureGauges publishes the exposure ratios
func UpdateExposureGauges(s ExposureSnapshot) {
	interceptionGauge.Set(s.E1)
	attackerParentGauge.Set(s.E3)
}

// UpdateParentSwitchGauge publishes the aggregate switch rate
func UpdateParentSwitchGauge(rate float64) {
	parentSwitchRateGauge.Set(rate)
}
