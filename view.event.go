package bus

import (
	"context"
)

// ViewEvent carries one handler result through the view stage.
// It lives for exactly one consumed request and is never shared.
type ViewEvent struct {
	request  *Message
	result   Response
	response  *Message
	responder ViewSubscriber
	stopped   bool
}

func NewViewEvent(request *Message, result Response) *ViewEvent {
	return &ViewEvent{
		request: request,
		result:  result,
	}
}

// Request is the consumed msg the handler ran for. May be nil in tests.
func (e *ViewEvent) Request() *Message {
	return e.request
}

// Context is the request ctx handed to the handler func.
func (e *ViewEvent) Context() context.Context {
	if e.request == nil || e.request.ctx == nil {
		return context.Background()
	}
	return e.request.ctx
}

func (e *ViewEvent) Result() Response {
	return e.result
}

// SetResponse installs the reply and stops propagation, later subscribers
// won't see the event.
func (e *ViewEvent) SetResponse(reply *Message) {
	e.response = reply
	e.stopped = true
}

func (e *ViewEvent) Response() *Message {
	return e.response
}

// Responder is the subscriber that set the response, nil if none did or the
// event was not dispatched through a ViewDispatcher.
func (e *ViewEvent) Responder() ViewSubscriber {
	return e.responder
}

func (e *ViewEvent) HasResponse() bool {
	return e.response != nil
}

func (e *ViewEvent) StopPropagation() {
	e.stopped = true
}

func (e *ViewEvent) IsPropagationStopped() bool {
	return e.stopped
}
