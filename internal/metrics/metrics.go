// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge metrics. Registered once on the default registry; the server
// exposes them on /metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_active_sessions",
		Help: "Current number of connected capture sessions",
	})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_sessions_started_total",
		Help: "Total number of recognition streams opened",
	})

	FramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_frames_forwarded_total",
		Help: "Total number of audio frames relayed to the recognition service",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_frames_dropped_total",
		Help: "Total number of audio frames dropped because no recognition stream was open",
	})

	TranscriptionsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_transcriptions_relayed_total",
		Help: "Total number of transcription events relayed to clients",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_decode_errors_total",
		Help: "Total number of recognition payloads dropped as malformed",
	})

	StreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_stream_errors_total",
		Help: "Total number of recognition stream transport errors",
	})
)
