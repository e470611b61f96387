package pipeline

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// charset decodes resource bytes to text and encodes the bundle back.
type charset struct {
	name string
	enc  encoding.Encoding
}

func newCharset(name string) (*charset, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding '%s': %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding '%s': %w", name, err)
	}
	return &charset{name: canonical, enc: enc}, nil
}

func (c *charset) isUTF8() bool {
	return c.name == "utf-8"
}

func (c *charset) decode(b []byte) (string, error) {
	if c.isUTF8() && utf8.Valid(b) {
		return string(b), nil
	}
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *charset) encode(s string) ([]byte, error) {
	if c.isUTF8() {
		return []byte(s), nil
	}
	return encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
}
