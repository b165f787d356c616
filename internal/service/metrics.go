package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcash_request_transitions_total",
		Help: "Requests entering a status, by kind",
	}, []string{"kind", "status"})

	approvalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcash_approval_failures_total",
		Help: "Approvals refused or aborted, by reason",
	}, []string{"reason"})

	ledgerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcash_ledger_transfer_duration_seconds",
		Help:    "Latency of ledger transfers issued on approval",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)
