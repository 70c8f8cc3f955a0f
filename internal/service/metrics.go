package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sagaExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_saga_executions_total",
		Help: "Provisioning saga executions by flow and outcome",
	}, []string{"flow", "outcome"})

	sagaCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_saga_compensations_total",
		Help: "Compensations run while unwinding failed sagas",
	}, []string{"step", "outcome"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_credentials_notifications_total",
		Help: "Best-effort credentials notifications by outcome",
	}, []string{"outcome"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_transfers_total",
		Help: "Transfer attempts by final state and error kind",
	}, []string{"state", "kind"})

	transferDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bank_transfer_duration_seconds",
		Help:    "Latency distribution of transfer attempts",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)

const (
	outcomeSucceeded   = "succeeded"
	outcomeRejected    = "rejected"
	outcomeCompensated = "compensated"
	outcomeFailed      = "failed"
)
