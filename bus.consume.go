package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Consume reads deliveries off queue until the app or conn ctx is done, or rmq
// closes the deliveries chan. Each delivery is handled on its own goroutine.
func (b *Bus) Consume(consumers *sync.WaitGroup, queue string) {
	defer consumers.Done()

	ch, ok := b.inChans[queue]
	if !ok {
		Slog.Error("queue not in inChans", "queue", queue)
		return
	}

	// manual ack, after the handler returns
	deliveries, err := ch.consume(consumeOpts{Queue: queue})
	if err != nil {
		// Run() reconnects once all consumers are gone
		Slog.Error("failed to consume queue", "queue", queue, "err", err)
		b.connCancel()
		return
	}

	wg := sync.WaitGroup{}
loop:
	for {
		select {
		case delivery, open := <-deliveries:
			if !open {
				Slog.Warn("deliveries closed. stopping consuming", "queue", queue)
				break loop
			}

			Slog.Debug("new delivery", "queue", queue, "funcName", delivery.CorrelationId, "msgID", delivery.MessageId)

			wg.Add(1)
			go b.consume(&delivery, &wg)
		case <-b.AppCtx.Done():
			Slog.Warn("app ctx done. stopping consuming", "queue", queue)
			break loop
		case <-b.connCtx.Done():
			Slog.Warn("conn ctx done. stopping consuming", "queue", queue)
			break loop
		}
	}

	Slog.Warn("waiting for consuming to finish", "queue", queue)
	wg.Wait()
}

func (b *Bus) consume(delivery *amqp091.Delivery, wg *sync.WaitGroup) {
	defer wg.Done()

	msg := Message{}
	msg.FromDelivery(delivery)

	ret, handled := b.consumeMsg(&msg)
	err := delivery.Ack(false)
	if err != nil {
		Slog.Error("delivery.Ack()", "err", err)
	}

	// only Handler funcs reply here, handleFuncs reply on their own
	if handled && msg.ReplyTo != "" {
		b.sendHandlerReturnToBus(&msg, ret)
	}
}

// consumeMsg routes msg by type. handled=true when a Handler func ran and
// ret is its return.
func (b *Bus) consumeMsg(msg *Message) (ret Response, handled bool) {
	b.metrics.consumed(msg.BusMsgType)

	switch msg.BusMsgType {
	case MsgTypeRequest:
		return b.consumeRequest(msg)
	case MsgTypeResponse:
		b.consumeReply(msg)
	case MsgTypeCtxCancel:
		b.consumeCancel(msg)
	default:
		Slog.Error("unknown msg type", "BusMsgType", msg.BusMsgType, "MsgID", msg.MsgID)
	}
	return nil, false
}

func (b *Bus) consumeRequest(msg *Message) (Response, bool) {
	b.bindRequestContext(msg)

	if handler := b.handlers[msg.ToQueue]; handler != nil && msg.ToFunc != "" {
		Slog.Info("consuming via handler", "queue", msg.ToQueue, "func", msg.ToFunc)
		return b.consumeMsgViaHandler(handler, msg), true
	}

	if handleFunc := b.handleFuncs[msg.ToQueue]; handleFunc != nil {
		Slog.Info("consuming via handleFunc", "queue", msg.ToQueue)
		go handleFunc(msg) // may block, don't hold up the consumer
		return nil, false
	}

	Slog.Error("no handler for msg", "ToQueue", msg.ToQueue, "ToFunc", msg.ToFunc, "MsgID", msg.MsgID)
	return nil, false
}

// consumeReply hands a reply to the Call waiting on it, if any.
func (b *Bus) consumeReply(msg *Message) {
	if msg.MsgID == "" {
		Slog.Warn("reply without MsgID, dropping", "ToQueue", msg.ToQueue)
		return
	}
	if !b.settle(msg.MsgID, msg) {
		Slog.Warn("nobody waiting for reply. Client gave up?", "MsgID", msg.MsgID)
	}
}

func (b *Bus) consumeCancel(msg *Message) {
	cancel, found := b.inContextCancels.LoadAndDelete(msg.MsgID)
	if !found {
		Slog.Info("cancel msg: ctx not found. Msg timeout or consumer replied?", "ToQueue", msg.ToQueue, "MsgID", msg.MsgID)
		return
	}

	Slog.Info("got cancel ctx msg. Cancelling", "ToQueue", msg.ToQueue, "MsgID", msg.MsgID)
	cancel()
}

// bindRequestContext gives msg a ctx that dies at MsgDeadline (immediately if
// unset, the caller won't wait for a reply then) or on a CtxCancel msg.
func (b *Bus) bindRequestContext(msg *Message) {
	deadline := msg.MsgDeadline
	if deadline.IsZero() {
		deadline = time.Now()
	}
	msg.ctx, msg.cancel = context.WithDeadline(context.Background(), deadline)

	b.inContextCancels.Store(msg.MsgID, msg.cancel)
	go func() {
		<-msg.ctx.Done()

		// gc, unless a reply or CtxCancel already took it
		if cancel, found := b.inContextCancels.LoadAndDelete(msg.MsgID); found {
			cancel()
		}
	}()
}
