// Package metrics exposes Prometheus gauges/counters/histograms:
// promauto-registered collectors that Serve exposes on a dedicated
// /metrics HTTP endpoint. Only cmd/server calls Serve; the resampler and
// LLM backend collectors updated in the client and orchestrator
// processes are not exposed over HTTP. The STT/TTS/LLM engines are opaque
// externals, so the collectors cover the media/control plane this
// module owns: session lifecycle, resampler throughput, the sentence
// TTS pipeline, and LLM backend latency/retries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "space_lt_sessions_active",
		Help: "Currently active server sessions (0 or 1; single-client by design)",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_sessions_total",
		Help: "Total sessions accepted since process start",
	})

	AudioSegmentsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_audio_segments_received_total",
		Help: "AudioSegment messages received by the STT router",
	})

	AudioSegmentsDroppedPaused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_audio_segments_dropped_paused_total",
		Help: "AudioSegment messages dropped because the session was paused",
	})

	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "space_lt_transcription_duration_seconds",
		Help:    "Time spent in the STT engine's transcribe call",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	TtsChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_tts_chunks_sent_total",
		Help: "TtsAudioChunk frames written to the client",
	})

	TtsSentencesSynthesized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_tts_sentences_synthesized_total",
		Help: "Sentences synthesized by the TTS pipeline",
	})

	TtsInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_tts_interruptions_total",
		Help: "Responses truncated by an InterruptTts (barge-in)",
	})

	ResampleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "space_lt_resample_duration_seconds",
		Help:    "Time spent in one Resampler.Process call",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"direction"})

	LlmQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "space_lt_llm_query_duration_seconds",
		Help:    "End-to-end latency of one LLM backend Query call, including retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
	})

	LlmQueryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_llm_query_retries_total",
		Help: "LLM query attempts beyond the first, across all calls",
	})

	LlmQueryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "space_lt_llm_query_fallbacks_total",
		Help: "LLM queries that exhausted all retries and returned the fallback apology",
	})
)

// Serve runs an HTTP server exposing /metrics on addr (e.g. ":9600") and
// blocks until it fails, returning ListenAndServe's error; cmd/server runs
// it in its own goroutine. It has no shutdown hook; callers that want a bounded
// lifetime should not call this helper and should wire promhttp.Handler
// into their own mux instead.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
