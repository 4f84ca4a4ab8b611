package bus

import (
	"bytes"
	"io"
	"net/http"
)

// Response is whatever a handler func returns. The view stage decides how it
// becomes a reply (see ResponseAdapter, ReplyFormatter).
type Response any

// CustomResponse lets a handler override the reply's StatusCode, Header and
// Type while keeping ReplyFormatter's body formatting.
type CustomResponse struct {
	StatusCode int
	Header     http.Header
	Type       string
	Body       Response
}

// ResponseMessage is a handler result that already is a complete HTTP
// response. Any type with this method set qualifies.
type ResponseMessage interface {
	StatusCode() int
	Header() http.Header
	Body() io.Reader
}

// BytesResponse is an in-memory ResponseMessage.
type BytesResponse struct {
	status int
	header http.Header
	body   []byte
}

func NewBytesResponse(status int, header http.Header, body []byte) *BytesResponse {
	if header == nil {
		header = http.Header{}
	}
	return &BytesResponse{
		status: status,
		header: header,
		body:   body,
	}
}

func (r *BytesResponse) StatusCode() int     { return r.status }
func (r *BytesResponse) Header() http.Header { return r.header }
func (r *BytesResponse) Body() io.Reader     { return bytes.NewReader(r.body) }

// HTTPResponse forwards an upstream *http.Response as the reply.
// The converter reads and closes its body.
type HTTPResponse struct {
	resp *http.Response
}

func FromHTTPResponse(resp *http.Response) *HTTPResponse {
	return &HTTPResponse{resp: resp}
}

// HTTPResponse methods are safe on a nil receiver or nil resp, they report
// an empty message.
func (r *HTTPResponse) StatusCode() int {
	if r == nil || r.resp == nil {
		return 0
	}
	return r.resp.StatusCode
}

func (r *HTTPResponse) Header() http.Header {
	if r == nil || r.resp == nil {
		return nil
	}
	return r.resp.Header
}

func (r *HTTPResponse) Body() io.Reader {
	if r == nil || r.resp == nil || r.resp.Body == nil {
		return nil
	}
	return r.resp.Body
}
