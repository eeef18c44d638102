package fetchgateway

import (
	"bytes"
	"io"
	"net/http"

	"github.com/fetchgate/gateway/gwtypes"
)

// Result is what Fetch/FetchStream hand back to the caller: response head
// plus a body the caller must Close when done (this is what releases the
// admission permit on the live-origin paths; a cache replay's Close is a
// no-op since no permit was ever held).
type Result struct {
	Status    int
	Header    http.Header
	Body      io.ReadCloser
	Streaming bool
	FromCache bool
}

func resultFromCached(v *gwtypes.CachedValue) *Result {
	return &Result{
		Status:    v.Status,
		Header:    http.Header(v.Header),
		Body:      io.NopCloser(bytes.NewReader(v.Body)),
		Streaming: false,
		FromCache: true,
	}
}

func resultFromChunked(rec *gwtypes.ChunkedReplayRecord) *Result {
	var buf bytes.Buffer
	for _, c := range rec.Chunks {
		buf.Write(c)
	}
	return &Result{
		Status:    rec.Status,
		Header:    http.Header(rec.Header),
		Body:      io.NopCloser(&buf),
		Streaming: true,
		FromCache: true,
	}
}

func emptyResult(status int, header http.Header) *Result {
	return &Result{
		Status:    status,
		Header:    header,
		Body:      io.NopCloser(bytes.NewReader(nil)),
		Streaming: true,
		FromCache: true,
	}
}
