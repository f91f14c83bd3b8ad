package rewrite

import (
	"bytes"
	"net/http"
)

// captureWriter is the http.ResponseWriter handed to the rest of the chain.
// Write and WriteString append to the same buffer; the status code is held
// back and nothing reaches the client until the filter emits the result.
// Headers go straight to the real writer's header map, which is not sent
// before WriteHeader on the real writer.
type captureWriter struct {
	http.ResponseWriter
	buf         bytes.Buffer
	statusCode  int
	wroteHeader bool
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w}
}

// WriteHeader records the first final status code. Informational codes are
// ignored because they carry no body and there is nothing to rewrite.
func (w *captureWriter) WriteHeader(code int) {
	if w.wroteHeader || (code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols) {
		return
	}
	w.wroteHeader = true
	w.statusCode = code
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.buf.Write(b)
}

// WriteString is the text entry point (io.StringWriter). It shares the
// byte buffer with Write so interleaved writes keep their order.
func (w *captureWriter) WriteString(s string) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.buf.WriteString(s)
}

// Flush is a no-op: a partial body must never reach the client.
func (w *captureWriter) Flush() {}

// status returns the captured status, 200 if the handler never set one.
func (w *captureWriter) status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

// Bytes returns the complete captured body.
func (w *captureWriter) Bytes() []byte {
	return w.buf.Bytes()
}
