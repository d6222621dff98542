package protocol

import "github.com/google/uuid"

// HeaderTraceID is the header key carrying the trace id that follows a
// request chain across processes.
const HeaderTraceID = "trace-id"

// EnsureTraceID returns headers guaranteed to carry a trace id, generating
// one if absent. The input map is not modified.
func EnsureTraceID(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	if out[HeaderTraceID] == "" {
		out[HeaderTraceID] = uuid.NewString()
	}
	return out
}

// TraceID extracts the trace id from headers, or "" if absent.
func TraceID(headers map[string]string) string {
	return headers[HeaderTraceID]
}
