package fetchgateway

import (
	"net/http"
	"strings"
)

// classifyHead reports whether a response's head alone (status and headers,
// before any body bytes) already mandates streaming treatment: a declared
// chunked transfer-encoding, an event-stream/multipart content type, or the
// absence of Content-Length alongside a declared Transfer-Encoding.
//
// Responses for which this returns false are tentatively bufferable; the
// early-buffer state machine in stream.go may still promote them to
// streaming mid-flight if the body turns out larger than expected.
func classifyHead(header http.Header) bool {
	if te := header.Get("Transfer-Encoding"); te != "" {
		if strings.Contains(strings.ToLower(te), "chunked") {
			return true
		}
		if header.Get("Content-Length") == "" {
			return true
		}
	}

	ct := strings.ToLower(header.Get("Content-Type"))
	if strings.HasPrefix(ct, "text/event-stream") || strings.HasPrefix(ct, "multipart/") {
		return true
	}

	return false
}
