package bus

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPublishing       = errors.New("publish failed")
	ErrReplyTimeout     = errors.New("bus reply timeout")
	ErrRequestCancelled = errors.New("request cancelled")
)

// fallbacks for requests that don't set their own
const (
	DefaultBusTimeout = 10 * time.Second
	DefaultBusTTL     = 10 * time.Minute
)

type PublishOpts struct {
	ToQueue    string
	ToFunc     string
	Header     http.Header   // ie RawQuery for url.Values args
	BusTimeout time.Duration // how long to wait for the reply, 0 = DefaultBusTimeout
	BusTTL     time.Duration // how long the request may sit in rmq, 0 = DefaultBusTTL
}

// PublishAndReturn is Call with positional args.
func (b *Bus) PublishAndReturn(request any, toQueue string, toFunc string, msgTimeout time.Duration, msgTTL time.Duration, requestCtxs ...context.Context) (*Message, error) {
	ctx := context.Background()
	if len(requestCtxs) > 0 {
		ctx = requestCtxs[0]
	}
	return b.Call(ctx, request, PublishOpts{
		ToQueue:    toQueue,
		ToFunc:     toFunc,
		BusTimeout: msgTimeout,
		BusTTL:     msgTTL,
	})
}

// Call publishes request to o.ToQueue/o.ToFunc and waits for the reply.
// ctx cancels the wait and tells the worker to give up.
// request: nil = empty body, []byte/string as-is, anything else as json
func (b *Bus) Call(ctx context.Context, request any, o PublishOpts) (*Message, error) {
	msg, err := newRequest(request, o)
	if err != nil {
		return nil, err
	}

	done := make(chan any, 1)
	b.PublishAndClose(msg, func(ret any) { done <- ret }, ctx)

	switch ret := (<-done).(type) {
	case error: // publishing err, timeout, cancel
		return nil, ret
	case *Message:
		return ret, nil
	default:
		return nil, fmt.Errorf("unexpected reply %T", ret)
	}
}

func newRequest(request any, o PublishOpts) (*Message, error) {
	switch {
	case o.ToQueue == "":
		return nil, errors.New("toQueue is empty")
	case o.ToFunc == "":
		return nil, errors.New("toFunc is empty")
	}

	body, err := requestBody(request)
	if err != nil {
		return nil, err
	}

	return &Message{
		BusMsgType:  MsgTypeRequest,
		ToQueue:     o.ToQueue,
		ToFunc:      o.ToFunc,
		MsgDeadline: time.Now().Add(cmp.Or(o.BusTimeout, DefaultBusTimeout)),
		MsgTTL:      cmp.Or(o.BusTTL, DefaultBusTTL),
		Header:      o.Header.Clone(),
		Body:        body,
	}, nil
}

func requestBody(request any) ([]byte, error) {
	switch request := request.(type) {
	case nil:
		return nil, nil
	case []byte:
		return request, nil
	case string:
		return []byte(request), nil
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal(request): %w", err)
	}
	return data, nil
}

// PublishAndClose publishes msg and blocks until userClosure got exactly one
// of: the reply *Message, a publish error, ErrReplyTimeout (MsgDeadline hit)
// or ErrRequestCancelled (requestCtxs[0] done).
func (b *Bus) PublishAndClose(msg *Message, userClosure func(any), requestCtxs ...context.Context) {
	b.stampRequest(msg)
	if userClosure == nil {
		userClosure = func(any) {}
	}

	requestCtx := context.Background()
	if len(requestCtxs) > 0 && requestCtxs[0] != nil {
		requestCtx = requestCtxs[0]
	}

	replied := make(chan struct{})
	b.outClosures.Store(msg.MsgID, func(ret any) {
		close(replied)
		userClosure(ret)
	})

	timeout := time.NewTimer(time.Until(msg.MsgDeadline))
	defer timeout.Stop()

	err := b.publish(msg)
	if err != nil {
		if !b.settle(msg.MsgID, err) {
			<-replied // reply beat the error
		}
		return
	}

	select {
	case <-replied:
	case <-timeout.C:
		b.settle(msg.MsgID, ErrReplyTimeout)
	case <-requestCtx.Done():
		if !b.settle(msg.MsgID, ErrRequestCancelled) {
			return
		}

		// worker may be sitting on it, skip its prefetch
		err := b.CancelMsg(*msg, msg.ToQueue+NoPrefetchSuffix)
		if err != nil {
			Slog.Warn("failed to publish cancel", "MsgID", msg.MsgID, "err", err)
		}
	}
}

func (b *Bus) stampRequest(msg *Message) {
	if msg.MsgID == "" {
		msg.MsgID = uuid.NewString()
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = b.CallbackQueue
	}
	if msg.BusMsgType == "" {
		msg.BusMsgType = MsgTypeRequest
	}
	if msg.MsgDeadline.IsZero() {
		Slog.Warn("msg with MsgDeadline=0", "fallback", DefaultBusTimeout)
		msg.MsgDeadline = time.Now().Add(DefaultBusTimeout)
	}
	if msg.MsgTTL == 0 {
		Slog.Warn("msg with MsgTTL=0", "fallback", DefaultBusTTL)
		msg.MsgTTL = DefaultBusTTL
	}
}

// settle hands ret to msgID's pending closure. False if the closure was
// already taken by someone else.
func (b *Bus) settle(msgID string, ret any) bool {
	closure, ok := b.outClosures.LoadAndDelete(msgID)
	if ok {
		closure(ret)
	}
	return ok
}

// publishBacklog flushes msgs queued while the conn was down.
func (b *Bus) publishBacklog() {
	for {
		select {
		case <-b.connCtx.Done():
			return
		case job, open := <-b.outBacklog.Jobs:
			if !open {
				return
			}
			if err := b.Publish(job.Request); err != nil {
				Slog.Error("failed publishing backlog", "err", err)
				return
			}
		}
	}
}

// CancelMsg asks the worker on toQueue to cancel msg's handler ctx.
func (b *Bus) CancelMsg(msg Message, toQueue string) error {
	Slog.Debug("CancelMsg()", "msgID", msg.MsgID, "toQueue", toQueue)

	return b.publish(&Message{
		BusMsgType: MsgTypeCtxCancel,
		MsgID:      msg.MsgID,
		ToQueue:    toQueue,
		MsgTTL:     cmp.Or(b.MsgTTL, msg.MsgTTL),
	})
}

// Publish pushes msg to rmq as-is, no reply tracking. While the conn is down
// msgs go to the backlog instead.
func (b *Bus) Publish(msg *Message) error {
	if msg.BusMsgType == "" {
		msg.BusMsgType = MsgTypeRequest
	}

	if b.connCtx == nil || b.connCtx.Err() != nil {
		b.outBacklog.Add(msg.MsgID, msg)
		return nil
	}

	// default exchange routes by queue name. No confirms, ack is nil
	_, err := b.outChan.publishWithDeferredConfirm(publishOpts{
		RoutingKey: msg.ToQueue,
		Publishing: msg.ToPublishing(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishing, err)
	}
	b.metrics.published(msg.BusMsgType)

	Slog.Info("published to bus", "MsgID", msg.MsgID, "type", msg.BusMsgType, "queue", msg.ToQueue, "func", msg.ToFunc)
	return nil
}
