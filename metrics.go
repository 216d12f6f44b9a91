package ekho

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process-wide metrics, modeled directly on kcp-go.v2's DefaultSnmp
// atomic-counter struct but exported as Prometheus collectors instead
// of a periodically-logged struct, matching the rest of the ecosystem
// pack's preference for a pull-based metrics surface.
var (
	metricsSegmentsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "segments_sent_total",
		Help:      "Sealed ARQ frames handed to the carrier, each carrying one or more segments, retransmissions included.",
	})
	metricsSegmentsRetransmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "segments_retransmitted_total",
		Help:      "ARQ segments re-sent after RTO expiry or fast-retransmit.",
	})
	metricsFastRetransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "fast_retransmits_total",
		Help:      "Segments re-sent because of the fast-retransmit rule rather than RTO expiry.",
	})
	metricsSegmentsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "segments_lost_total",
		Help:      "RTO expiries observed, used as the loss signal for congestion control.",
	})
	metricsActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ekho",
		Name:      "active_sessions",
		Help:      "Sessions currently registered.",
	})
	metricsBytesIn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "bytes_in_total",
		Help:      "Plaintext application bytes delivered to Session.Recv callers.",
	})
	metricsBytesOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "bytes_out_total",
		Help:      "Plaintext application bytes accepted by Session.Send.",
	})
	metricsBounced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "bounced_packets_total",
		Help:      "Inbound packets that failed envelope authentication and were echoed back unchanged.",
	})
	metricsBounceThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "bounce_throttled_total",
		Help:      "Undecryptable packets dropped instead of bounced because the source exceeded the bounce rate limit.",
	})
	metricsDecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ekho",
		Name:      "decrypt_failures_total",
		Help:      "Inbound packets that failed envelope authentication (bounced or throttled).",
	})
)

func init() {
	prometheus.MustRegister(
		metricsSegmentsSent,
		metricsSegmentsRetransmitted,
		metricsFastRetransmits,
		metricsSegmentsLost,
		metricsActiveSessions,
		metricsBytesIn,
		metricsBytesOut,
		metricsBounced,
		metricsBounceThrottled,
		metricsDecryptFailures,
	)
}

// ServeMetrics listens on addr and serves the registered collectors at
// /metrics until ctx is done, grounded on the
// malbeclabs-doublezero telemetry services' "Prometheus metrics
// server" goroutine. The caller runs this in its own goroutine; a
// listen failure is returned rather than fatal, since a dead metrics
// endpoint shouldn't take the tunnel down with it.
func ServeMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "ekho: metrics listen")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	glog.Infof("ekho: metrics listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "ekho: metrics serve")
	}
	return nil
}
