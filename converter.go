package bus

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var ErrBodyTooLarge = errors.New("response body too large")

// DefaultTypeHeader carries the reply's pretty-printed Type through a
// ResponseMessage, since the interface has no slot for it.
const DefaultTypeHeader = "X-Bus-Type"

// ResponseConverter turns a ResponseMessage into a bus reply.
// Implementations must be safe for concurrent use. The bus stamps a copy of
// the returned msg, so a cached *Message may be returned as long as nobody
// mutates it.
type ResponseConverter interface {
	ConvertResponse(ResponseMessage) (*Message, error)
}

// ConverterFunc adapts a plain func to ResponseConverter.
type ConverterFunc func(ResponseMessage) (*Message, error)

func (f ConverterFunc) ConvertResponse(m ResponseMessage) (*Message, error) {
	return f(m)
}

// MessageFactory is the default ResponseConverter. Zero value is usable.
type MessageFactory struct {
	MaxBodySize int64  // 0 = unlimited
	TypeHeader  string // "" = DefaultTypeHeader
}

func (f *MessageFactory) ConvertResponse(m ResponseMessage) (*Message, error) {
	reply := &Message{
		StatusCode: m.StatusCode(),
		Header:     m.Header().Clone(),
	}
	if reply.StatusCode == 0 {
		reply.StatusCode = http.StatusOK // 200
	}
	if reply.Header == nil {
		reply.Header = http.Header{}
	}

	typeHeader := f.TypeHeader
	if typeHeader == "" {
		typeHeader = DefaultTypeHeader
	}
	reply.Type = reply.Header.Get(typeHeader)
	reply.Header.Del(typeHeader)

	body, err := f.readBody(m.Body())
	if err != nil {
		return nil, err
	}
	reply.Body = body

	return reply, nil
}

func (f *MessageFactory) readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	if f.MaxBodySize <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return body, nil
	}

	// read one extra byte to tell "exactly max" from "over max"
	body, err := io.ReadAll(io.LimitReader(r, f.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > f.MaxBodySize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, f.MaxBodySize)
	}
	return body, nil
}
