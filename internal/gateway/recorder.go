package gateway

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"sync"
)

// statusRecorder tracks whether a webhook processor wrote a response, and
// discards writes that arrive after the gateway answered on its behalf.
//
// The processor gets its own header map, copied onto the real response when
// the status is committed. Once finish has run the processor can no longer
// reach the real response at all, headers included.
type statusRecorder struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	header http.Header
	status int
	wrote  bool
	closed bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{w: w, header: http.Header{}}
}

func (r *statusRecorder) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.wrote {
		return http.Header{}
	}
	return r.header
}

// commitLocked copies the processor's headers and sends status. Callers hold mu.
func (r *statusRecorder) commitLocked(status int) {
	dst := r.w.Header()
	for k, v := range r.header {
		dst[k] = append([]string(nil), v...)
	}
	r.status = status
	r.wrote = true
	r.w.WriteHeader(status)
}

func (r *statusRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.wrote {
		return
	}
	r.commitLocked(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, http.ErrHandlerTimeout
	}
	if !r.wrote {
		r.commitLocked(http.StatusOK)
	}
	return r.w.Write(b)
}

func (r *statusRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if !r.wrote {
		r.commitLocked(http.StatusOK)
	}
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets streaming processors take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("gateway: response writer does not support hijacking")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, http.ErrHandlerTimeout
	}
	r.wrote = true
	return hj.Hijack()
}

// finish writes status on behalf of the processor when it wrote nothing, and
// blocks any later writes. It reports whether status was written.
func (r *statusRecorder) finish(status int, body string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.wrote {
		return false
	}
	r.status = status
	r.wrote = true
	if body != "" {
		r.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	r.w.WriteHeader(status)
	if body != "" {
		_, _ = r.w.Write([]byte(body))
	}
	return true
}
