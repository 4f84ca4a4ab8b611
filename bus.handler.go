package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"time"
)

// HandlerFuncs lists registered func names per queue, sorted.
func (b *Bus) HandlerFuncs() map[string][]string {
	funcs := map[string][]string{}
	for queue, handlerFuncs := range b.handlers {
		funcs[queue] = slices.Sorted(maps.Keys(handlerFuncs))
	}
	return funcs
}

func (b *Bus) consumeMsgViaHandler(handler Handler, msg *Message) Response {
	fn, ok := handler[msg.ToFunc]
	if !ok {
		return &CustomResponse{
			StatusCode: http.StatusNotImplemented, // 501
			Type:       MessageTypeError,
			Body:       errors.New("handler func not found"),
		}
	}

	args, err := b.buildFuncArgs(msg, fn)
	if err != nil {
		return &CustomResponse{
			StatusCode: http.StatusBadRequest, // 400
			Type:       MessageTypeError,
			Body:       err,
		}
	}

	Slog.Debug("calling handler func", "func", msg.ToFunc, "args", len(args))
	started := time.Now()
	rets := fn.Func.Call(args)
	b.metrics.handlerCall(msg.ToFunc, started)

	// exactly one Response, see handlerFuncIsSupported
	return rets[0].Interface()
}

// buildFuncArgs maps msg onto fn's args. Arg types were validated at register
// time by handlerFuncIsSupported.
func (b *Bus) buildFuncArgs(msg *Message, fn HandlerFunc) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(fn.Args))
	for i, arg := range fn.Args {
		v, err := buildArg(msg, arg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func buildArg(msg *Message, arg reflect.Type) (reflect.Value, error) {
	switch argRole(arg) {
	case roleCtx:
		ctx := msg.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		return reflect.ValueOf(ctx), nil
	case roleHeader:
		return reflect.ValueOf(msg.Header), nil
	case roleQuery:
		query, _ := url.ParseQuery(msg.Header.Get("RawQuery")) // best effort, like url.URL.Query()
		return reflect.ValueOf(query), nil
	case roleBody:
		return bodyArg(arg, msg.Body)
	}
	return reflect.Value{}, fmt.Errorf("unsupported arg type: %s", arg)
}

// bodyArg: string and []byte args get the raw body, anything else is json.
// Empty body leaves the zero value (an allocated struct for *struct args).
func bodyArg(arg reflect.Type, body []byte) (reflect.Value, error) {
	switch {
	case arg.Kind() == reflect.String:
		return reflect.ValueOf(string(body)).Convert(arg), nil
	case arg.Kind() == reflect.Slice && arg.Elem().Kind() == reflect.Uint8:
		return reflect.ValueOf(body).Convert(arg), nil
	case len(body) == 0 && arg.Kind() == reflect.Ptr:
		return reflect.New(arg.Elem()), nil
	case len(body) == 0:
		return reflect.Zero(arg), nil
	}

	ptr := reflect.New(arg)
	err := json.Unmarshal(body, ptr.Interface())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("json.Unmarshal(body, %s): %w", arg, err)
	}
	return ptr.Elem(), nil
}
