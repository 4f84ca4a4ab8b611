package bus

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

type HandlerOpts struct {
	Handler  any
	Queue    string
	Prefetch int
}

type HandleFuncOpts struct {
	HandleFunc func(*Message)
	Queue      string
	Prefetch   int
}

// NoPrefetchSuffix names the twin queue every registration also listens on,
// for msgs that must bypass prefetch (ie replies/interrupts)
const NoPrefetchSuffix = ":noprefetch"

// RegisterHandler registers 1 handler (with many funcs) to handle msgs from 1 queue.
// Funcs are picked by reflection: exported methods returning exactly one
// bus.Response whose args buildFuncArgs can fill.
func (b *Bus) RegisterHandler(opts HandlerOpts) error {
	Slog.Info("registerHandler", "queue", opts.Queue, "prefetch", opts.Prefetch, "handler", fmt.Sprintf("%T", opts.Handler))

	if err := b.checkQueueFree(opts.Queue); err != nil {
		return err
	}

	hValue := reflect.ValueOf(opts.Handler)
	if hValue.Kind() != reflect.Ptr {
		return fmt.Errorf("handler is not a pointer, is %v", hValue.Kind())
	}
	if hValue.IsNil() {
		return errors.New("handler ptr is nil")
	}
	hType := hValue.Type()

	handlerFuncs := make(Handler)
	for i := 0; i < hValue.NumMethod(); i++ {
		fnValue := hValue.Method(i)
		fnValueType := fnValue.Type()

		if !handlerFuncIsSupported(fnValueType) {
			continue
		}

		fn := HandlerFunc{
			Func: fnValue,
		}
		for j := 0; j < fnValueType.NumIn(); j++ {
			fn.Args = append(fn.Args, fnValueType.In(j))
		}
		for j := 0; j < fnValueType.NumOut(); j++ {
			fn.Returns = append(fn.Returns, fnValueType.Out(j))
		}

		handlerFuncs[hType.Method(i).Name] = fn
	}

	if len(handlerFuncs) == 0 {
		return errors.New("handler has no usable funcs")
	}

	Slog.Info("handler accepted", "queue", opts.Queue, "funcs", slices.Sorted(maps.Keys(handlerFuncs)))

	b.handlers[opts.Queue] = handlerFuncs
	b.handlers[opts.Queue+NoPrefetchSuffix] = handlerFuncs
	b.bindQueue(opts.Queue, opts.Prefetch)

	return nil
}

// RegisterAsyncHandleFunc registers 1 func to handle msgs from 1 queue.
// The func runs in the background and must reply on its own, the view stage
// is skipped.
func (b *Bus) RegisterAsyncHandleFunc(o HandleFuncOpts) error {
	if o.HandleFunc == nil {
		return errors.New("handleFunc is nil")
	}
	if err := b.checkQueueFree(o.Queue); err != nil {
		return err
	}

	b.handleFuncs[o.Queue] = o.HandleFunc
	b.handleFuncs[o.Queue+NoPrefetchSuffix] = o.HandleFunc
	b.bindQueue(o.Queue, o.Prefetch)

	Slog.Info("registered handleFunc", "queue", o.Queue, "prefetch", o.Prefetch)
	return nil
}

func (b *Bus) checkQueueFree(queue string) error {
	if queue == "" {
		return errors.New("queue is empty")
	}
	if _, ok := b.handlers[queue]; ok {
		return fmt.Errorf("queue %q already has a handler", queue)
	}
	if _, ok := b.handleFuncs[queue]; ok {
		return fmt.Errorf("queue %q already has a handleFunc", queue)
	}
	return nil
}

func (b *Bus) bindQueue(queue string, prefetch int) {
	b.inQueues[queue] = struct{ Prefetch int }{
		Prefetch: prefetch,
	}
	b.inQueues[queue+NoPrefetchSuffix] = struct{ Prefetch int }{
		Prefetch: 0,
	}
}

// handlerFuncIsSupported checks fn returns exactly one bus.Response and
// every arg can be built by Bus.buildFuncArgs(). At most one arg of each
// role (header, query, ctx, body) is allowed.
func handlerFuncIsSupported(mValType reflect.Type) bool {
	if mValType.NumOut() != 1 || mValType.Out(0) != reflect.TypeFor[Response]() {
		return false
	}

	seen := map[string]bool{}
	for i := 0; i < mValType.NumIn(); i++ {
		arg := mValType.In(i)

		role := argRole(arg)
		if role == "" {
			return false
		}
		if seen[role] {
			Slog.Error("duplicate arg", "role", role, "arg", arg.String())
			return false
		}
		seen[role] = true
	}

	return true
}

// arg roles, see argRole
const (
	roleCtx    = "ctx"
	roleHeader = "header"
	roleQuery  = "query"
	roleBody   = "body"
)

// argRole names what buildFuncArgs fills arg with, "" if unsupported.
func argRole(arg reflect.Type) string {
	switch arg.Kind() {
	case reflect.Map:
		switch arg.String() {
		case "http.Header":
			return roleHeader
		case "url.Values":
			return roleQuery
		default:
			return roleBody // json
		}
	case reflect.Interface:
		if arg.String() == "context.Context" {
			return roleCtx
		}
		Slog.Error("unsupported interface arg", "arg", arg.String())
	case reflect.String, reflect.Struct:
		return roleBody
	case reflect.Slice:
		switch arg.Elem().Kind() {
		case reflect.Uint8, reflect.String, reflect.Struct:
			return roleBody
		}
		Slog.Error("unsupported slice arg", "elem kind", arg.Elem().Kind().String())
	case reflect.Ptr:
		if arg.Elem().Kind() == reflect.Struct {
			return roleBody
		}
		Slog.Error("unsupported ptr arg", "elem kind", arg.Elem().Kind().String(), "arg", arg.String())
	default:
		Slog.Error("unsupported arg", "kind", arg.Kind().String(), "arg", arg.String())
	}
	return ""
}
