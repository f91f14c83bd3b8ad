package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	errUnsupportedEncoding = errors.New("unsupported content encoding")
	errDecodedTooLarge     = errors.New("decoded body exceeds limit")
)

// isIdentity reports whether a Content-Encoding value leaves the body as-is.
func isIdentity(contentEncoding string) bool {
	ce := strings.TrimSpace(strings.ToLower(contentEncoding))
	return ce == "" || ce == "identity"
}

// decodeContent undoes a single Content-Encoding, reading at most limit
// decoded bytes. Stacked encodings ("gzip, br") are not supported.
func decodeContent(contentEncoding string, body []byte, limit int64) ([]byte, error) {
	var r io.Reader
	switch strings.TrimSpace(strings.ToLower(contentEncoding)) {
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gr.Close()
		r = gr
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, contentEncoding)
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", errDecodedTooLarge, limit)
	}
	return out, nil
}
