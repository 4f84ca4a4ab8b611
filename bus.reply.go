package bus

import (
	"errors"
	"net/http"
)

// ErrNilResponse is logged when the view chain ends without a reply.
var ErrNilResponse = errors.New("view stage set no response")

func (b *Bus) sendHandlerReturnToBus(msg *Message, ret Response) {
	if msg.ctx != nil && msg.ctx.Err() != nil {
		Slog.Warn("not replying, msg ctx is cancelled", "ToQueue", msg.ToQueue, "ToFunc", msg.ToFunc, "ReplyTo", msg.ReplyTo)
		return
	}

	// user triggered cancel?
	cancel, found := b.inContextCancels.LoadAndDelete(msg.MsgID)
	if !found {
		Slog.Warn("not replying, user triggered ctx cancel", "ToQueue", msg.ToQueue, "ToFunc", msg.ToFunc, "ReplyTo", msg.ReplyTo)
		return
	}
	cancel() // gc cancel() func, no turning back now, WILL publish reply

	reply := b.renderReply(msg, ret)

	err := b.publish(reply)
	if err != nil {
		Slog.Error("failed to publish reply", "err", err)
		return
	}

	Slog.Info("published reply to bus", "replyTo", msg.ReplyTo, "MsgID", reply.MsgID, "status", reply.StatusCode, "reply", string(reply.Body))
}

// renderReply runs ret through the view stage and stamps the reply envelope.
// A failing subscriber becomes a 500 error reply.
func (b *Bus) renderReply(msg *Message, ret Response) *Message {
	ev := NewViewEvent(msg, ret)

	var reply *Message
	err := b.view.Dispatch(ev)
	switch {
	case err != nil:
		Slog.Error("view stage failed", "ToQueue", msg.ToQueue, "ToFunc", msg.ToFunc, "err", err)
		b.metrics.view(ViewError)
		reply = &Message{
			StatusCode: http.StatusInternalServerError, // 500
			Header:     http.Header{},
			Type:       MessageTypeError,
			Body:       []byte(err.Error()),
		}
	case !ev.HasResponse():
		Slog.Warn("empty reply", "ToQueue", msg.ToQueue, "ToFunc", msg.ToFunc, "err", ErrNilResponse)
		b.metrics.view(ViewFormatted)
		reply = &Message{}
	default:
		b.metrics.view(viewOutcome(ev.Responder()))

		// the subscriber may hand out a shared msg, stamp a copy
		stamped := *ev.Response()
		reply = &stamped
	}

	reply.BusMsgType = MsgTypeResponse
	reply.ToQueue = msg.ReplyTo
	reply.ReplyTo = ""
	reply.MsgID = msg.MsgID
	reply.MsgTTL = b.MsgTTL
	if reply.Header == nil {
		reply.Header = http.Header{}
	}
	if reply.StatusCode == 0 {
		reply.StatusCode = http.StatusOK // 200
	}

	return reply
}

func viewOutcome(responder ViewSubscriber) string {
	switch responder.(type) {
	case *ResponseAdapter:
		return ViewConverted
	case ReplyFormatter, *ReplyFormatter:
		return ViewFormatted
	default:
		return ViewCustom
	}
}
