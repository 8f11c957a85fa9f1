package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueuedPackets          = promauto.NewGauge(prometheus.GaugeOpts{Name: "peermux_queued_packets", Help: "Packets currently buffered across all socket queues"})
	RegisteredSockets      = promauto.NewGauge(prometheus.GaugeOpts{Name: "peermux_registered_sockets", Help: "Currently registered socket endpoints"})
	PendingRequests        = promauto.NewGauge(prometheus.GaugeOpts{Name: "peermux_pending_connection_requests", Help: "Buffered connection requests with no registered endpoint"})
	PacketsReceivedTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "peermux_packets_received_total", Help: "Packets drained from the platform receive buffer"})
	PacketsDroppedTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "peermux_packets_dropped_total", Help: "Packets dropped for an unknown destination socket"})
	QueueOverflowTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "peermux_queue_overflow_total", Help: "Drain passes stopped by the queue size limit"})
	DrainErrorsTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "peermux_drain_errors_total", Help: "Drain passes aborted by a platform error"}, []string{"op"})
	NotificationsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "peermux_notifications_forwarded_total", Help: "Connection lifecycle notifications forwarded to endpoints"}, []string{"kind"})
)
