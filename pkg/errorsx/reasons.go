package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTransportUpgrade ReasonCode = "transport_upgrade"
	ReasonTransportRead    ReasonCode = "transport_read"

	ReasonSinkOpen  ReasonCode = "sink_open"
	ReasonSinkWrite ReasonCode = "sink_write"
	ReasonSinkFlush ReasonCode = "sink_flush"

	ReasonChannelConnect   ReasonCode = "channel_connect"
	ReasonChannelSend      ReasonCode = "channel_send"
	ReasonChannelRecognize ReasonCode = "channel_recognize"

	ReasonTranscode  ReasonCode = "transcode"
	ReasonTranscribe ReasonCode = "transcribe"
	ReasonSummarize  ReasonCode = "summarize"

	ReasonProviderRateLimit   ReasonCode = "provider_rate_limit"
	ReasonProviderUnavailable ReasonCode = "provider_unavailable"
	ReasonProviderCircuitOpen ReasonCode = "provider_circuit_open"

	ReasonSessionClosed ReasonCode = "session_closed"
)

// Category groups reason codes by how far a failure is allowed to propagate.
type Category string

const (
	CategoryUnknown   Category = "unknown"
	CategoryTransport Category = "transport"
	CategorySink      Category = "sink"
	CategoryChannel   Category = "channel"
	CategoryPipeline  Category = "pipeline_stage"
)

// CategoryOf maps a reason code to its category.
func CategoryOf(reason ReasonCode) Category {
	switch reason {
	case ReasonTransportUpgrade, ReasonTransportRead, ReasonSessionClosed:
		return CategoryTransport
	case ReasonSinkOpen, ReasonSinkWrite, ReasonSinkFlush:
		return CategorySink
	case ReasonChannelConnect, ReasonChannelSend, ReasonChannelRecognize:
		return CategoryChannel
	case ReasonTranscode, ReasonTranscribe, ReasonSummarize,
		ReasonProviderRateLimit, ReasonProviderUnavailable, ReasonProviderCircuitOpen:
		return CategoryPipeline
	default:
		return CategoryUnknown
	}
}

// Fatal reports whether errors of this category end the session.
func (c Category) Fatal() bool {
	return c == CategorySink
}
