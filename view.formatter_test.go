package bus

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name string `json:"name"`
}

func TestFormatReply(t *testing.T) {
	tests := []struct {
		name        string
		result      Response
		status      int
		msgType     string
		body        string
		contentType string
		header      http.Header
	}{
		{
			name:   "nil",
			result: nil,
			status: http.StatusOK,
		},
		{
			name:   "string",
			result: "hello",
			status: http.StatusOK,
			body:   "hello",
		},
		{
			name:    "bytes",
			result:  []byte{0xde, 0xad},
			status:  http.StatusOK,
			msgType: "[]byte",
			body:    "\xde\xad",
		},
		{
			name:        "empty slice is never null",
			result:      []string{},
			status:      http.StatusOK,
			body:        "[]",
			contentType: "application/json",
		},
		{
			name:        "slice",
			result:      []int{1, 2},
			status:      http.StatusOK,
			body:        "[1,2]",
			contentType: "application/json",
		},
		{
			name:        "map",
			result:      map[string]int{"a": 1},
			status:      http.StatusOK,
			body:        `{"a":1}`,
			contentType: "application/json",
		},
		{
			name:        "struct",
			result:      widget{Name: "w"},
			status:      http.StatusOK,
			msgType:     "widget",
			body:        `{"name":"w"}`,
			contentType: "application/json",
		},
		{
			name:        "struct ptr",
			result:      &widget{Name: "p"},
			status:      http.StatusOK,
			msgType:     "widget",
			body:        `{"name":"p"}`,
			contentType: "application/json",
		},
		{
			name:    "error",
			result:  errors.New("boom"),
			status:  http.StatusBadRequest,
			msgType: MessageTypeError,
			body:    "boom",
		},
		{
			name: "custom response",
			result: CustomResponse{
				StatusCode: http.StatusTeapot,
				Header:     http.Header{"X-Tea": {"green"}},
				Type:       "Tea",
				Body:       "short",
			},
			status:  http.StatusTeapot,
			msgType: "Tea",
			body:    "short",
			header:  http.Header{"X-Tea": {"green"}},
		},
		{
			name: "custom response error keeps status",
			result: &CustomResponse{
				StatusCode: http.StatusNotImplemented,
				Body:       errors.New("nope"),
			},
			status:  http.StatusNotImplemented,
			msgType: MessageTypeError,
			body:    "nope",
		},
		{
			name: "custom response struct body",
			result: &CustomResponse{
				StatusCode: http.StatusCreated,
				Body:       widget{Name: "new"},
			},
			status:      http.StatusCreated,
			msgType:     "widget",
			body:        `{"name":"new"}`,
			contentType: "application/json",
		},
		{
			name:   "nil custom response ptr body",
			result: &CustomResponse{StatusCode: http.StatusNoContent},
			status: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := FormatReply(tt.result)
			require.NotNil(t, reply)

			assert.Equal(t, tt.status, reply.StatusCode)
			assert.Equal(t, tt.msgType, reply.Type)
			assert.Equal(t, tt.body, string(reply.Body))
			assert.Equal(t, tt.contentType, reply.Header.Get("Content-Type"))
			for k := range tt.header {
				assert.Equal(t, tt.header.Get(k), reply.Header.Get(k))
			}
		})
	}
}

func TestFormatReply_DoesNotAliasCustomHeader(t *testing.T) {
	h := http.Header{"X-A": {"1"}}
	reply := FormatReply(&CustomResponse{Header: h, Body: []int{1}})

	assert.Equal(t, "application/json", reply.Header.Get("Content-Type"))
	assert.Empty(t, h.Get("Content-Type"))
}

func TestReplyFormatter_AlwaysResponds(t *testing.T) {
	ev := NewViewEvent(nil, nil)
	require.NoError(t, ReplyFormatter{}.OnView(ev))
	require.True(t, ev.HasResponse())
	assert.Equal(t, http.StatusOK, ev.Response().StatusCode)
}
