package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tranzio"

// SignupMetrics counts signup stage outcomes and OTP deliveries.
type SignupMetrics struct {
	stages     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewSignupMetrics registers the collectors with reg, reusing collectors that are already registered.
func NewSignupMetrics(reg prometheus.Registerer) (*SignupMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	stages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signup",
		Name:      "operations_total",
		Help:      "Signup operations partitioned by stage (initiate, verify, resend, mobile_send, mobile_verify) and outcome.",
	}, []string{"stage", "outcome"}))
	if err != nil {
		return nil, err
	}

	deliveries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "deliveries_total",
		Help:      "OTP deliveries partitioned by channel and result.",
	}, []string{"channel", "result"}))
	if err != nil {
		return nil, err
	}

	return &SignupMetrics{stages: stages, deliveries: deliveries}, nil
}

// ObserveStage records the outcome of one signup operation.
func (m *SignupMetrics) ObserveStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage, outcome).Inc()
}

// ObserveDelivery records one OTP dispatch attempt.
func (m *SignupMetrics) ObserveDelivery(channel string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}

func registerCounterVec(reg prometheus.Registerer, collector *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("existing collector has wrong type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}
