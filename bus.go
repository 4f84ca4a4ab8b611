package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/frifox/fifo"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rabbitmq/amqp091-go"
)

type Bus struct {
	AppCtx     context.Context
	connCtx    context.Context
	connCancel context.CancelFunc
	context.Context
	context.CancelFunc

	DSN string

	// replies
	CallbackQueue string        // where to listen for replies
	Prefetch      int           // replies consuming Prefetch
	MsgTTL        time.Duration // TTL for replies sent to producer

	// incoming
	InConn   *amqp091.Connection
	inChans  map[string]*channel
	inQueues map[string]struct {
		Prefetch int
	}
	inContextCancels *xsync.Map[string, context.CancelFunc]

	// outgoing
	outConn     *amqp091.Connection
	outChan     *channel
	outBacklog  *fifo.Queue[string, *Message, any]
	outClosures *xsync.Map[string, func(any)]

	// queue => handler/handleFunc
	handlers    map[string]Handler
	handleFuncs map[string]func(*Message)

	// handler return => reply
	view    *ViewDispatcher
	metrics *Metrics

	// b.Publish, swapped in tests
	publish func(*Message) error
}

type Handler map[string]HandlerFunc

type HandlerFunc struct {
	Func    reflect.Value
	Args    []reflect.Type
	Returns []reflect.Type
}

type Opts struct {
	Context       context.Context
	DSN           string
	CallbackQueue string
	Prefetch      int
	MsgTTL        time.Duration

	// Converter turns ResponseMessage handler returns into replies.
	// Defaults to &MessageFactory{}
	Converter ResponseConverter

	// Metrics is optional, nil = no metrics
	Metrics *Metrics
}

func NewBus(o Opts) *Bus {
	Slog.Info("NewBus", "callbackQueue", o.CallbackQueue, "prefetch", o.Prefetch, "msgTTL", o.MsgTTL)

	// defaults
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Converter == nil {
		o.Converter = &MessageFactory{}
	}

	bus := Bus{
		AppCtx:     o.Context,
		outBacklog: fifo.NewQueue[string, *Message, any](o.Context),

		DSN:           o.DSN,
		CallbackQueue: o.CallbackQueue,
		Prefetch:      o.Prefetch,
		MsgTTL:        o.MsgTTL,

		handlers:    make(map[string]Handler),
		handleFuncs: make(map[string]func(*Message)),

		inChans:          make(map[string]*channel),
		inQueues:         make(map[string]struct{ Prefetch int }),
		inContextCancels: xsync.NewMap[string, context.CancelFunc](),
		outClosures:      xsync.NewMap[string, func(any)](),

		view:    NewViewDispatcher(),
		metrics: o.Metrics,
	}
	bus.Context, bus.CancelFunc = context.WithCancel(context.Background())
	bus.publish = bus.Publish

	// default view chain: ResponseMessage => converter, anything else => formatter
	bus.view.Subscribe(NewResponseAdapter(o.Converter), PriorityResponseAdapter)
	bus.view.Subscribe(ReplyFormatter{}, PriorityReplyFormatter)

	return &bus
}

// Subscribe adds a view subscriber. Call before Run().
func (b *Bus) Subscribe(sub ViewSubscriber, priority int) {
	b.view.Subscribe(sub, priority)
}

// Run connects, consumes and reconnects until AppCtx is done.
// b.Context is cancelled once Run returns.
func (b *Bus) Run() {
	defer b.CancelFunc()

	for b.AppCtx.Err() == nil {
		connCtx, connCancel := context.WithCancel(context.Background())

		err := b.setup(connCancel)
		if err != nil {
			Slog.Warn("couldn't set up bus. Trying again in 1s", "err", err)
			connCancel()
			b.closeConns()

			select {
			case <-b.AppCtx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		// connected, Publish() stops backlogging
		b.connCtx, b.connCancel = connCtx, connCancel
		go b.publishBacklog()

		Slog.Info("starting consumers")
		wg := sync.WaitGroup{}
		wg.Add(1)
		go b.Consume(&wg, b.CallbackQueue)
		for queue := range b.inQueues {
			wg.Add(1)
			go b.Consume(&wg, queue)
		}

		Slog.Info("bus up and running")

		// consumers die on app done or conn loss
		wg.Wait()
		connCancel()
		b.closeConns()
	}

	Slog.Warn("Run() finished")
}

// setup dials rmq and opens every channel. connCancel fires when either
// connection drops.
func (b *Bus) setup(connCancel context.CancelFunc) error {
	err := b.Connect(connCancel)
	if err != nil {
		return err
	}

	// incoming: callbacks
	err = b.OpenInChannel(b.CallbackQueue, b.Prefetch)
	if err != nil {
		return fmt.Errorf("callbacks: %w", err)
	}
	// incoming: service + service:noprefetch
	for queue, conf := range b.inQueues {
		err := b.OpenInChannel(queue, conf.Prefetch)
		if err != nil {
			return fmt.Errorf("service %s: %w", queue, err)
		}
	}

	return b.openOutChannel()
}

func (b *Bus) Connect(connCancel context.CancelFunc) error {
	if b.CallbackQueue == "" {
		return errors.New("callback queue not defined")
	}

	var err error
	b.InConn, err = dial(b.DSN, "InConn", connCancel)
	if err != nil {
		return err
	}
	b.outConn, err = dial(b.DSN, "outConn", connCancel)
	if err != nil {
		return err
	}

	return nil
}

func dial(dsn string, name string, onClose context.CancelFunc) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rmq: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		for msg := range closed {
			Slog.Debug("NotifyClose "+name, "error", msg)
			onClose()
		}
	}()

	return conn, nil
}

func (b *Bus) closeConns() {
	for queue, ch := range b.inChans {
		err := ch.Close()
		if err != nil {
			Slog.Warn("couldn't close channel", "queue", queue, "err", err)
		}
		delete(b.inChans, queue)
	}
	if b.outChan != nil {
		err := b.outChan.Close()
		if err != nil {
			Slog.Warn("couldn't close channel", "err", err)
		}
		b.outChan = nil
	}

	for _, conn := range []*amqp091.Connection{b.InConn, b.outConn} {
		if conn == nil || conn.IsClosed() {
			continue
		}
		err := conn.Close()
		if err != nil {
			Slog.Warn("couldn't close conn", "err", err)
		}
	}
}

func (b *Bus) OpenInChannel(queue string, prefetchCount int) error {
	Slog.Debug("opening in channel", "queue", queue, "prefetch", prefetchCount)

	chTmp, err := b.InConn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open in channel: %w", err)
	}
	b.inChans[queue] = &channel{chTmp}

	err = b.inChans[queue].qos(qosOpts{
		PrefetchCount: prefetchCount,
	})
	if err != nil {
		return fmt.Errorf("failed to set in qos: %w", err)
	}

	// pre-declare, durable so queued requests survive an rmq reboot
	_, err = b.inChans[queue].queueDeclare(queueDeclareOpts{
		Queue:   queue,
		Durable: true,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	b.bindChannelEvents(b.inChans[queue], "in:"+queue)

	return nil
}

func (b *Bus) openOutChannel() error {
	chTmp, err := b.outConn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open out channel: %w", err)
	}
	b.outChan = &channel{chTmp}

	b.bindChannelEvents(b.outChan, "out")
	return nil
}
