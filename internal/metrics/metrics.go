// Package metrics exposes Prometheus counters for request lifecycle
// operations.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

// Recorder counts service operations by outcome.
type Recorder struct {
	operations *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payverify_operations_total",
			Help: "Request lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(r.operations)

	return r
}

func (r *Recorder) Record(op string, err error) {
	r.operations.WithLabelValues(op, payment.ErrorKind(err)).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
