package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bus "github.com/frifox/viewbus"
)

// Service is the demo handler. Each exported func is callable over the bus.
type Service struct{}

// Echo replies with the request body as-is.
func (s *Service) Echo(body string) bus.Response {
	return body
}

// Status replies with a full HTTP response built by the handler, ie
// ?code=418&body=short+and+stout&header=X-Teapot:yes
func (s *Service) Status(q url.Values) bus.Response {
	code := http.StatusOK
	if raw := q.Get("code"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 100 || parsed > 999 {
			return errors.New("code must be a 3 digit HTTP status")
		}
		code = parsed
	}

	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	for _, kv := range q["header"] {
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			continue
		}
		header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	return bus.NewBytesResponse(code, header, []byte(q.Get("body")))
}

// Headers replies with the request headers as JSON.
func (s *Service) Headers(h http.Header) bus.Response {
	return map[string][]string(h)
}

// Deadline reports how long the caller is willing to wait.
func (s *Service) Deadline(ctx context.Context) bus.Response {
	deadline, ok := ctx.Deadline()
	if !ok {
		return &bus.CustomResponse{
			StatusCode: http.StatusNoContent,
		}
	}
	return struct {
		Deadline string `json:"deadline"`
	}{
		Deadline: deadline.UTC().Format(time.RFC3339Nano),
	}
}
