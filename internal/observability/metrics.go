// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vendorhub/vendorhub/internal/auth"
)

// Metrics holds the application metrics. It implements auth.Observer.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	TokensIssued         *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
}

var _ auth.Observer = (*Metrics)(nil)

// NewMetrics creates the application metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorhub_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vendorhub_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorhub_tokens_issued_total",
				Help: "Tokens persisted by storage purpose",
			},
			[]string{"purpose"},
		),
		NotificationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendorhub_notification_failures_total",
				Help: "Mail notifications that could not be delivered, by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.TokensIssued, m.NotificationFailures)
	return m
}

// TokenIssued counts a persisted token.
func (m *Metrics) TokenIssued(purpose auth.TokenPurpose) {
	m.TokensIssued.WithLabelValues(string(purpose)).Inc()
}

// NotificationFailed counts a failed notification.
func (m *Metrics) NotificationFailed(kind string) {
	m.NotificationFailures.WithLabelValues(kind).Inc()
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
