package compare

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "partdiff"
	metricsSubsystem = "compare"
)

func newCounter(name, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}, labels)
}

func newGauge(name, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}, labels)
}

var (
	recordsProcessed = newCounter("records_total", "Records read from partition scans.", []string{"namespace", "cluster"})
	missingRecords   = newCounter("missing_records_total", "Records missing on a cluster.", []string{"namespace", "cluster"})
	differingRecords = newCounter("differing_records_total", "Records whose content differs.", []string{"namespace"})
	partitionsDone   = newCounter("partitions_total", "Partitions fully compared.", []string{"namespace"})
	queueDepth       = newGauge("queue_depth", "Partitions waiting for a worker.", []string{"namespace"})
)
