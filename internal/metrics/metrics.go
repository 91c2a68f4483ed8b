package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_frames_received_total",
			Help: "Inbound realtime frames by type tag.",
		},
		[]string{"type"},
	)

	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdesk_reconnects_total",
			Help: "Successful realtime channel reconnects.",
		},
	)

	connectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatdesk_connection_up",
			Help: "Whether the realtime channel is currently connected.",
		},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_messages_sent_total",
			Help: "Outbound messages by result (sent/dropped).",
		},
		[]string{"result"},
	)

	sessionsHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatdesk_sessions_held",
			Help: "Sessions currently held in the local store.",
		},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_session_polls_total",
			Help: "Session list pulls by result (ok/error).",
		},
		[]string{"result"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			framesReceived, reconnectsTotal, connectionUp,
			messagesSent, sessionsHeld, pollsTotal,
		)
	})
}

func IncFrame(frameType string) { framesReceived.WithLabelValues(frameType).Inc() }

func IncReconnect() { reconnectsTotal.Inc() }

func SetConnected(up bool) {
	if up {
		connectionUp.Set(1)
	} else {
		connectionUp.Set(0)
	}
}

func IncMessageSent()    { messagesSent.WithLabelValues("sent").Inc() }
func IncMessageDropped() { messagesSent.WithLabelValues("dropped").Inc() }

func SetSessionsHeld(n int) { sessionsHeld.Set(float64(n)) }

func IncPoll(ok bool) {
	if ok {
		pollsTotal.WithLabelValues("ok").Inc()
	} else {
		pollsTotal.WithLabelValues("error").Inc()
	}
}
