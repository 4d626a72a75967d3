// Package metrics exposes the purchase workflow to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/fsm"
	"github.com/buildtall-systems/ticketbot/internal/provider"
)

var allStates = []fsm.State{
	fsm.StateStart,
	fsm.StateAwaitingSaleWindow,
	fsm.StateAcquiringToken,
	fsm.StateResolvingChallenge,
	fsm.StateAwaitingInventory,
	fsm.StateSubmittingOrder,
	fsm.StateConfirmingOrder,
	fsm.StateDone,
}

// Metrics owns a private registry so tests and repeated runs never collide
// on the default one.
type Metrics struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	responses   *prometheus.CounterVec
	state       *prometheus.GaugeVec
	remaining   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbot_transitions_total",
			Help: "Fired triggers by source and destination state",
		}, []string{"from", "to"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketbot_provider_responses_total",
			Help: "Classified provider responses by operation and code",
		}, []string{"operation", "code"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ticketbot_state",
			Help: "Current workflow state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		remaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ticketbot_countdown_remaining_seconds",
			Help: "Seconds left until the sale opens",
		}),
	}
	m.setState(fsm.StateStart)
	return m
}

// Observe records a fired trigger.
func (m *Metrics) Observe(_ context.Context, step fsm.Step) {
	m.transitions.WithLabelValues(string(step.From), string(step.To)).Inc()
	m.setState(step.To)
}

// ObserveResponse counts a classified provider response.
func (m *Metrics) ObserveResponse(op provider.Operation, resp provider.Response) {
	m.responses.WithLabelValues(string(op), resp.Code.String()).Inc()
}

// ObserveCountdown records the time left before the sale.
func (m *Metrics) ObserveCountdown(remaining, _ time.Duration) {
	m.remaining.Set(remaining.Seconds())
}

func (m *Metrics) setState(current fsm.State) {
	for _, s := range allStates {
		value := 0.0
		if s == current {
			value = 1.0
		}
		m.state.WithLabelValues(string(s)).Set(value)
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
