package cnst

// Tracer names used across the services
const (
	// TraceServer is the tracer name for the host server surfaces
	TraceServer = "wuhost/server"
)

// Common span names
const (
	SpanNegotiate     = "wuhost.signaling.negotiate"
	SpanAdminRemove   = "wuhost.admin.remove"
	SpanAdminSend     = "wuhost.admin.send"
	SpanAdminSessions = "wuhost.admin.sessions"
)

// Common attribute keys
const (
	AttrSessionID   = "wuhost.session_id"
	AttrPayloadSize = "wuhost.payload_size"
	AttrClientAddr  = "client.remote_addr"
	AttrErrorReason = "error.reason"
)
