package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bus "github.com/frifox/viewbus"
)

func TestService_Status(t *testing.T) {
	q := url.Values{}
	q.Set("code", "418")
	q.Set("body", "short and stout")
	q.Add("header", "X-Teapot: yes")
	q.Add("header", "malformed")

	ret := (&Service{}).Status(q)
	msg, ok := ret.(bus.ResponseMessage)
	require.True(t, ok, "%T", ret)

	assert.Equal(t, http.StatusTeapot, msg.StatusCode())
	assert.Equal(t, "yes", msg.Header().Get("X-Teapot"))
	body, err := io.ReadAll(msg.Body())
	require.NoError(t, err)
	assert.Equal(t, "short and stout", string(body))
}

func TestService_StatusBadCode(t *testing.T) {
	for _, code := range []string{"abc", "42", "1000"} {
		ret := (&Service{}).Status(url.Values{"code": {code}})
		_, isErr := ret.(error)
		assert.True(t, isErr, code)
	}
}

func TestService_ThroughViewStage(t *testing.T) {
	d := bus.NewViewDispatcher()
	d.Subscribe(bus.NewResponseAdapter(&bus.MessageFactory{}), bus.PriorityResponseAdapter)
	d.Subscribe(bus.ReplyFormatter{}, bus.PriorityReplyFormatter)

	ev := bus.NewViewEvent(nil, (&Service{}).Status(url.Values{"code": {"201"}, "body": {"made"}}))
	require.NoError(t, d.Dispatch(ev))
	assert.Equal(t, http.StatusCreated, ev.Response().StatusCode)
	assert.Equal(t, "made", string(ev.Response().Body))

	ev = bus.NewViewEvent(nil, (&Service{}).Echo("hello"))
	require.NoError(t, d.Dispatch(ev))
	assert.Equal(t, http.StatusOK, ev.Response().StatusCode)
	assert.Equal(t, "hello", string(ev.Response().Body))

	ev = bus.NewViewEvent(nil, (&Service{}).Headers(http.Header{"X-A": {"1"}}))
	require.NoError(t, d.Dispatch(ev))
	assert.JSONEq(t, `{"X-A":["1"]}`, string(ev.Response().Body))
}

func TestService_Deadline(t *testing.T) {
	ret := (&Service{}).Deadline(context.Background())
	custom, ok := ret.(*bus.CustomResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusNoContent, custom.StatusCode)

	ctx, cancel := context.WithDeadline(context.Background(), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	defer cancel()
	reply := bus.FormatReply((&Service{}).Deadline(ctx))
	assert.JSONEq(t, `{"deadline":"2026-01-02T03:04:05Z"}`, string(reply.Body))
}

func TestPrintReply(t *testing.T) {
	out := &bytes.Buffer{}
	printReply(out, &bus.Message{
		StatusCode: http.StatusTeapot,
		Type:       "Tea",
		Header:     http.Header{"X-B": {"2"}, "X-A": {"1", "3"}},
		Body:       []byte("short"),
	})
	assert.Equal(t, "418 (Tea)\nX-A: 1, 3\nX-B: 2\n\nshort\n", out.String())
}
