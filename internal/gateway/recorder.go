package gateway

import (
	"bytes"
	"net/http"
	"sync"
)

// responseRecorder buffers the downstream response so the pipeline can cache
// it for idempotent replay before anything reaches the client.
type responseRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	wrote  bool
	buf    bytes.Buffer
}

func newRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), code: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wrote {
		return
	}
	r.code = status
	r.wrote = true
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wrote {
		r.code = http.StatusOK
		r.wrote = true
	}
	return r.buf.Write(p)
}

func (r *responseRecorder) status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

func (r *responseRecorder) bodyBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf.Bytes()...)
}

// reset discards buffered output, used when a panicking handler leaves a
// partial body behind.
func (r *responseRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
	r.header = make(http.Header)
	r.wrote = false
	r.code = http.StatusOK
}

// flushTo copies the buffered response onto the real writer.
func (r *responseRecorder) flushTo(w http.ResponseWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, vals := range r.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.code)
	_, _ = w.Write(r.buf.Bytes())
}
