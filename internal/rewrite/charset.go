package rewrite

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Charset converts response bytes to UTF-8 for substitution and back.
// Names are resolved with the WHATWG encoding index, so "latin1" and
// "iso-8859-1" both map to windows-1252 the way browsers do.
type Charset struct {
	name string
	enc  encoding.Encoding // nil for UTF-8
}

// LookupCharset resolves a charset label.
func LookupCharset(label string) (*Charset, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(label))
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", label, err)
	}

	// The replacement decoder turns any input into a single U+FFFD
	if name == "replacement" {
		return nil, fmt.Errorf("charset %q cannot be decoded losslessly", label)
	}

	c := &Charset{name: name}
	if name != "utf-8" {
		c.enc = enc
	}
	return c, nil
}

// Name returns the canonical charset name.
func (c *Charset) Name() string { return c.name }

// Decode converts b to UTF-8. UTF-8 input is returned as-is so that
// invalid sequences survive unchanged.
func (c *Charset) Decode(b []byte) ([]byte, error) {
	if c.enc == nil {
		return b, nil
	}
	return c.enc.NewDecoder().Bytes(b)
}

// Encode converts UTF-8 text back to the charset. A character the charset
// cannot represent is an error rather than a silent substitution.
func (c *Charset) Encode(text []byte) ([]byte, error) {
	if c.enc == nil {
		return text, nil
	}
	out, err := c.enc.NewEncoder().Bytes(text)
	if err != nil {
		return nil, fmt.Errorf("encoding to %s: %w", c.name, err)
	}
	return out, nil
}
