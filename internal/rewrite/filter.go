// Package rewrite implements the response body substitution filter: it
// buffers the complete response produced by the rest of the chain, applies
// an ordered list of regular expression replacements and emits the result
// with a recomputed Content-Length.
package rewrite

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/wudi/rewriter/internal/config"
	rwerrors "github.com/wudi/rewriter/internal/errors"
	"github.com/wudi/rewriter/internal/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxDecodedBytes caps a decompressed body when the configuration
// does not set max_decoded_bytes.
const DefaultMaxDecodedBytes = 64 << 20

// Outcomes reported to the Recorder, one per request.
const (
	OutcomePassthrough = "passthrough" // no rules configured
	OutcomeSkipped     = "skipped"     // response not eligible (type, encoding, status)
	OutcomeUnchanged   = "unchanged"   // rules ran, nothing matched
	OutcomeRewritten   = "rewritten"
	OutcomeError       = "error"
)

// Recorder receives per-request filter measurements.
type Recorder interface {
	ObserveRewrite(outcome string, capturedBytes, emittedBytes int)
	SetRules(n int)
}

// Options holds the collaborators of a Filter. Zero values are valid.
type Options struct {
	Logger  *zap.Logger
	Metrics Recorder
}

// state is everything a request needs, published as one immutable value.
type state struct {
	rules            *RuleSet
	charset          *Charset
	contentTypes     []string
	decodeCompressed bool
	maxDecodedBytes  int64
}

// Filter is the response rewrite middleware. It is safe for concurrent use;
// each request works on one snapshot of the rule set and its own buffer.
type Filter struct {
	state   atomic.Pointer[state]
	logger  *zap.Logger
	metrics Recorder
	tracer  trace.Tracer
}

// New creates and initializes a Filter.
func New(cfg config.RewriteConfig, opts Options) (*Filter, error) {
	f := &Filter{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("github.com/wudi/rewriter/internal/rewrite"),
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.state.Store(passthroughState())

	if err := f.Init(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

func passthroughState() *state {
	return &state{rules: &RuleSet{}, charset: &Charset{name: "utf-8"}}
}

// Init builds the rule set from cfg and publishes it. Requests already in
// flight finish with the rule set they started with. On error the previous
// rule set stays in effect.
func (f *Filter) Init(cfg config.RewriteConfig) error {
	cs, err := LookupCharset(cfg.Charset)
	if err != nil {
		return &ConfigurationError{Err: err}
	}

	rules, err := NewRuleSet(cfg.Rules, cfg.Validate)
	if err != nil {
		return err
	}

	maxDecoded := cfg.MaxDecodedBytes
	if maxDecoded <= 0 {
		maxDecoded = DefaultMaxDecodedBytes
	}

	types := make([]string, 0, len(cfg.ContentTypes))
	for _, ct := range cfg.ContentTypes {
		types = append(types, strings.ToLower(strings.TrimSpace(ct)))
	}

	f.state.Store(&state{
		rules:            rules,
		charset:          cs,
		contentTypes:     types,
		decodeCompressed: cfg.DecodeCompressed,
		maxDecodedBytes:  maxDecoded,
	})
	if f.metrics != nil {
		f.metrics.SetRules(rules.Len())
	}

	f.logger.Info("rewrite rules loaded",
		zap.Int("rules", rules.Len()),
		zap.String("charset", cs.Name()),
		zap.Bool("validated", cfg.Validate),
	)
	return nil
}

// Destroy clears the rule set. The filter passes responses through
// unchanged until Init is called again.
func (f *Filter) Destroy() {
	f.state.Store(passthroughState())
	if f.metrics != nil {
		f.metrics.SetRules(0)
	}
}

// Rules returns the rules currently in effect.
func (f *Filter) Rules() config.Rules {
	return f.state.Load().rules.Rules()
}

// Middleware returns the filter as a chain element.
func (f *Filter) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.ServeNext(w, r, next)
		})
	}
}

// ServeNext runs next against a capturing writer, rewrites what it produced
// and writes the result to w. A panic in next propagates untouched and
// nothing captured is emitted.
func (f *Filter) ServeNext(w http.ResponseWriter, r *http.Request, next http.Handler) {
	st := f.state.Load()

	cw := newCaptureWriter(w)
	next.ServeHTTP(cw, r)

	status := cw.status()
	captured := cw.Bytes()

	if !bodyAllowed(r.Method, status) {
		if r.Method == http.MethodHead && st.eligible(w.Header(), status) {
			// A GET would carry the rewritten length, which is unknown here
			w.Header().Del("Content-Length")
		}
		w.WriteHeader(status)
		f.observe(OutcomeSkipped, len(captured), 0)
		return
	}

	out, outcome, err := f.rewrite(r.Context(), st, w.Header(), status, captured)
	if err != nil {
		f.fail(w, r, err, len(captured))
		return
	}

	if outcome == OutcomeRewritten {
		// The validator no longer describes these bytes
		w.Header().Del("ETag")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(status)
	if _, err := w.Write(out); err != nil {
		f.logger.Debug("writing rewritten response failed", zap.Error(err))
	}
	f.observe(outcome, len(captured), len(out))
}

// rewrite returns the bytes to emit and the outcome. It may remove
// Content-Encoding from h when the emitted body is a decoded one.
func (f *Filter) rewrite(ctx context.Context, st *state, h http.Header, status int, body []byte) ([]byte, string, error) {
	if st.rules.Len() == 0 {
		return body, OutcomePassthrough, nil
	}
	if status == http.StatusPartialContent || !st.matchesContentType(h.Get("Content-Type")) {
		return body, OutcomeSkipped, nil
	}

	original := body
	contentEncoding := h.Get("Content-Encoding")
	decoded := false
	if !isIdentity(contentEncoding) {
		if !st.decodeCompressed {
			return body, OutcomeSkipped, nil
		}
		plain, err := decodeContent(contentEncoding, body, st.maxDecodedBytes)
		if err != nil {
			// Not ours to fix: the upstream body goes out as it came in
			f.logger.Warn("response body left untouched, cannot decode",
				zap.String("content_encoding", contentEncoding),
				zap.Error(err),
			)
			return body, OutcomeSkipped, nil
		}
		body = plain
		decoded = true
	}

	_, span := f.tracer.Start(ctx, "rewrite.substitute", trace.WithAttributes(
		attribute.Int("rewrite.rules", st.rules.Len()),
		attribute.Int("rewrite.captured_bytes", len(body)),
		attribute.String("rewrite.charset", st.charset.Name()),
	))
	defer span.End()

	out, changed, err := st.apply(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "substitution failed")
		return nil, OutcomeError, err
	}
	if !changed {
		return original, OutcomeUnchanged, nil
	}
	span.SetAttributes(attribute.Int("rewrite.emitted_bytes", len(out)))

	if decoded {
		h.Del("Content-Encoding")
	}
	return out, OutcomeRewritten, nil
}

// apply decodes body with the configured charset and runs the rules. The
// text is encoded again only when a rule changed it; otherwise the caller
// emits the original bytes.
func (st *state) apply(body []byte) ([]byte, bool, error) {
	text, err := st.charset.Decode(body)
	if err != nil {
		return nil, false, &SubstitutionError{Err: err}
	}
	rewritten, err := st.rules.Apply(text)
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(rewritten, text) {
		return nil, false, nil
	}
	out, err := st.charset.Encode(rewritten)
	if err != nil {
		return nil, false, &SubstitutionError{Err: err}
	}
	return out, true, nil
}

// eligible reports whether a response with these headers and status would
// be run through the rules.
func (st *state) eligible(h http.Header, status int) bool {
	if st.rules.Len() == 0 || status == http.StatusPartialContent {
		return false
	}
	if !bodyAllowed(http.MethodGet, status) {
		return false
	}
	if !isIdentity(h.Get("Content-Encoding")) && !st.decodeCompressed {
		return false
	}
	return st.matchesContentType(h.Get("Content-Type"))
}

func (st *state) matchesContentType(contentType string) bool {
	if len(st.contentTypes) == 0 {
		return true
	}
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, want := range st.contentTypes {
		if want == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(want, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return true
		}
	}
	return false
}

// fail answers the request with a generic 500. The pattern is logged but
// never sent to the client.
func (f *Filter) fail(w http.ResponseWriter, r *http.Request, err error, captured int) {
	requestID := middleware.RequestIDFromContext(r.Context())

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	var se *SubstitutionError
	if errors.As(err, &se) && se.Pattern != "" {
		fields = append(fields, zap.String("pattern", se.Pattern))
	}
	f.logger.Error("response rewrite failed", fields...)

	w.Header().Del("ETag")
	w.Header().Del("Last-Modified")
	httpErr := rwerrors.ErrInternalServer
	if requestID != "" {
		httpErr = httpErr.WithRequestID(requestID)
	}
	httpErr.WriteJSON(w)
	f.observe(OutcomeError, captured, 0)
}

func (f *Filter) observe(outcome string, captured, emitted int) {
	if f.metrics != nil {
		f.metrics.ObserveRewrite(outcome, captured, emitted)
	}
}

// bodyAllowed reports whether a response may carry a body.
func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
