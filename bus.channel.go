package bus

import (
	"errors"

	"github.com/rabbitmq/amqp091-go"
)

// channel wraps amqp091.Channel so calls take an opts struct instead of
// 5-7 positional bools
type channel struct {
	*amqp091.Channel
}

type qosOpts struct {
	PrefetchSize  int // max bytes, uint32 on the wire
	PrefetchCount int // max unacked msgs, uint16 on the wire
	Global        bool
}

func (c *channel) qos(o qosOpts) error {
	return c.Channel.Qos(o.PrefetchCount, o.PrefetchSize, o.Global)
}

type queueDeclareOpts struct {
	Queue      string
	Durable    bool // survives rmq restart
	AutoDelete bool // dropped when last consumer leaves
	Exclusive  bool // only this conn may use it
	NoWait     bool
	Arguments  amqp091.Table
}

func (c *channel) queueDeclare(o queueDeclareOpts) (amqp091.Queue, error) {
	return c.Channel.QueueDeclare(o.Queue, o.Durable, o.AutoDelete, o.Exclusive, o.NoWait, o.Arguments)
}

type consumeOpts struct {
	Queue       string
	ConsumerTag string // "" = generated by server
	NoAck       bool   // true = autoAck
	Exclusive   bool
	NoLocal     bool // rmq ignores it
	NoWait      bool
	Arguments   amqp091.Table
}

func (c *channel) consume(o consumeOpts) (<-chan amqp091.Delivery, error) {
	return c.Channel.Consume(o.Queue, o.ConsumerTag, o.NoAck, o.Exclusive, o.NoLocal, o.NoWait, o.Arguments)
}

type publishOpts struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
	Publishing *amqp091.Publishing
}

func (c *channel) publishWithDeferredConfirm(o publishOpts) (*amqp091.DeferredConfirmation, error) {
	if o.Publishing == nil {
		return nil, errors.New("nil publishing")
	}
	return c.Channel.PublishWithDeferredConfirm(o.Exchange, o.RoutingKey, o.Mandatory, o.Immediate, *o.Publishing)
}

// logNotifications drains ch in the background, logging each notification.
// amqp091 closes the chan when the channel/connection goes away.
func logNotifications[T any](ch chan T, event string, name string, key string) {
	go func() {
		for n := range ch {
			Slog.Debug(event, "chan", name, key, n)
		}
	}()
}

func (b *Bus) bindChannelEvents(c *channel, name string) {
	logNotifications(c.NotifyClose(make(chan *amqp091.Error)), "NotifyClose", name, "error")

	// false = server asks publishers to pause, true = resume
	logNotifications(c.NotifyFlow(make(chan bool)), "NotifyFlow", name, "flow")

	// undeliverable with mandatory/immediate set
	logNotifications(c.NotifyReturn(make(chan amqp091.Return)), "NotifyReturn", name, "return")

	// queue deleted, or mirrored queue master moved
	logNotifications(c.NotifyCancel(make(chan string)), "NotifyCancel", name, "message")

	ack, nack := c.NotifyConfirm(make(chan uint64), make(chan uint64))
	logNotifications(ack, "NotifyConfirm", name, "ack")
	logNotifications(nack, "NotifyConfirm", name, "nack")

	logNotifications(c.NotifyPublish(make(chan amqp091.Confirmation)), "NotifyPublish", name, "confirmation")
}
