// Package metrics defines and registers the custom Prometheus metrics of the
// auth service. It is the single source of truth for metric names, labels and
// help strings.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

const namespace = "stockauth"

// ── Session metrics ──────────────────────────────────────────────────────────

// AuthOperationsTotal counts session operations by outcome.
// Labels:
//   - operation: e.g. "login", "verify_2fa", "broker_login"
//   - result: "ok" or the error class from Result
var AuthOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_operations_total",
		Help:      "Total number of authentication operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// ── Broker metrics ───────────────────────────────────────────────────────────

// BrokerRequestDuration measures a single broker authentication exchange.
// Labels:
//   - broker: brokerage integration name
//   - result: "ok" or the error class from Result
var BrokerRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "broker_request_duration_seconds",
		Help:      "Duration of broker authentication requests.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	},
	[]string{"broker", "result"},
)

// Observe records one operation outcome.
func Observe(operation string, err error) {
	AuthOperationsTotal.WithLabelValues(operation, Result(err)).Inc()
}

// Result reduces err to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_input"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrBrokerAuth):
		return "broker_rejected"
	case errors.Is(err, domain.ErrBrokerTimeout):
		return "broker_timeout"
	case errors.Is(err, domain.ErrBrokerUpstream):
		return "broker_upstream"
	default:
		return "error"
	}
}

type instrumentedGateway struct {
	broker string
	next   ports.BrokerGateway
}

// InstrumentGateway wraps gw so every call is timed into BrokerRequestDuration.
func InstrumentGateway(name domain.BrokerName, gw ports.BrokerGateway) ports.BrokerGateway {
	return &instrumentedGateway{broker: string(name), next: gw}
}

func (g *instrumentedGateway) Authenticate(ctx context.Context, creds ports.BrokerCredentials) (*ports.BrokerTokens, error) {
	start := time.Now()
	tokens, err := g.next.Authenticate(ctx, creds)
	BrokerRequestDuration.WithLabelValues(g.broker, Result(err)).Observe(time.Since(start).Seconds())
	return tokens, err
}
