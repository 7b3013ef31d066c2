package comm

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics = struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          *prometheus.CounterVec
	collectiveDuration *prometheus.HistogramVec
	aborts             *prometheus.CounterVec
}{
	messagesSent: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hpl",
			Subsystem: "comm",
			Name:      "messages_sent",
			Help:      "Count of messages sent to other ranks",
		},
		[]string{"rank", "type"},
	),
	bytesSent: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hpl",
			Subsystem: "comm",
			Name:      "bytes_sent",
			Help:      "Matrix payload bytes sent to other ranks",
		},
		[]string{"rank"},
	),
	collectiveDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hpl",
			Subsystem: "comm",
			Name:      "collective_duration_seconds",
			Help:      "Time spent inside collective operations, including waiting for other ranks",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		},
		[]string{"op"},
	),
	aborts: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hpl",
			Subsystem: "comm",
			Name:      "aborts",
			Help:      "Count of process group aborts initiated locally",
		},
		[]string{"code"},
	),
}

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(metrics.messagesSent)
		prometheus.MustRegister(metrics.bytesSent)
		prometheus.MustRegister(metrics.collectiveDuration)
		prometheus.MustRegister(metrics.aborts)
	})
}

func recordSend(rank int, msg Msg) {
	r := strconv.Itoa(rank)
	metrics.messagesSent.WithLabelValues(r, msg.MsgType().String()).Inc()
	if v, ok := msg.(*Vector); ok {
		metrics.bytesSent.WithLabelValues(r).Add(float64(8 * len(v.Data)))
	}
}

func recordCollective(op string, start time.Time) {
	metrics.collectiveDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func recordAbort(code int) {
	metrics.aborts.WithLabelValues(strconv.Itoa(code)).Inc()
}
