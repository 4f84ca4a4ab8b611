package bus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	MsgTypeRequest   = "Request"
	MsgTypeResponse  = "Response"
	MsgTypeCtxCancel = "CtxCancel"
)

// Message is the bus envelope for requests, replies and ctx cancels.
//
// On the wire (amqp091.Publishing):
//
//	Type            BusMsgType
//	MessageId       MsgID
//	CorrelationId   ToFunc
//	ReplyTo         ReplyTo
//	ContentType     Type
//	ContentEncoding MsgDeadline, RFC3339Nano
//	Expiration      MsgTTL, millis
//	AppId           StatusCode
//	Headers         Header, multi-values joined by \x00
//	Body            Body
type Message struct {
	BusMsgType string // [Request, Response, CtxCancel]
	ToQueue    string // remote.worker.queue
	ToFunc     string // RemoteFunc
	ReplyTo    string // api:callback

	MsgID       string        // msg uuid
	MsgDeadline time.Time     // used to build/cancel req ctx, ie RemoteFunc(ctx context.Context)
	MsgTTL      time.Duration // time msg lives in RMQ before dying

	StatusCode int         // HTTP StatusCode: 200, etc
	Header     http.Header // HTTP Headers: [MyHeader: foobar, ...]
	Type       string      // pretty print StructName or CustomResponse{Type:___} string
	Body       []byte      // raw bytes, or marshalled struct

	// built in consumeMsg() off MsgDeadline, passed to RemoteFunc(ctx).
	// cancelled early on BusMsgType=CtxCancel
	ctx    context.Context
	cancel context.CancelFunc
}

// headerValueSep joins multi-value headers into one amqp table string
const headerValueSep = "\x00"

// AsError returns the reply body as an error if the worker replied with one.
func (m *Message) AsError() error {
	if m.Type != MessageTypeError {
		return nil
	}
	if len(m.Body) == 0 {
		return fmt.Errorf("bus error reply (status %d)", m.StatusCode)
	}
	return errors.New(string(m.Body))
}

func (m *Message) ToPublishing() *amqp091.Publishing {
	pub := amqp091.Publishing{
		DeliveryMode: amqp091.Transient,
		Type:         m.BusMsgType,

		MessageId:     m.MsgID,
		CorrelationId: m.ToFunc,
		ReplyTo:       m.ReplyTo,
		ContentType:   m.Type,
		Body:          m.Body,
	}

	if m.MsgTTL > 0 {
		pub.Expiration = strconv.FormatInt(m.MsgTTL.Milliseconds(), 10)
	}
	if !m.MsgDeadline.IsZero() {
		// consumer uses it to auto-cancel ctx and not reply
		pub.ContentEncoding = m.MsgDeadline.Format(time.RFC3339Nano)
	}
	if m.StatusCode != 0 {
		pub.AppId = strconv.Itoa(m.StatusCode)
	}

	if m.Header == nil {
		m.Header = http.Header{}
	}
	pub.Headers = encodeHeader(m.Header)

	return &pub
}

func (m *Message) FromDelivery(d *amqp091.Delivery) {
	m.BusMsgType = d.Type
	m.MsgID = d.MessageId
	m.ToQueue = d.RoutingKey // usually unnecessary
	m.ToFunc = d.CorrelationId
	m.ReplyTo = d.ReplyTo
	m.Type = d.ContentType
	m.Header = decodeHeader(d.Headers)
	m.Body = d.Body

	if d.ContentEncoding != "" {
		var err error
		m.MsgDeadline, err = time.Parse(time.RFC3339Nano, d.ContentEncoding)
		if err != nil {
			Slog.Error("time.Parse(ContentEncoding) as MsgDeadline", "err", err, "ContentEncoding", d.ContentEncoding)
		}
	}

	if d.Expiration != "" {
		ms, err := strconv.ParseInt(d.Expiration, 10, 64)
		if err == nil {
			m.MsgTTL = time.Duration(ms) * time.Millisecond
		}
	}

	if code, _ := strconv.Atoi(d.AppId); code != 0 {
		m.StatusCode = code
	}
}

func encodeHeader(h http.Header) amqp091.Table {
	table := amqp091.Table{}
	for key, vals := range h {
		if len(vals) == 0 {
			continue
		}

		// strip the separator from values, copy so h stays untouched
		clean := make([]string, len(vals))
		for i, val := range vals {
			clean[i] = strings.ReplaceAll(val, headerValueSep, "")
		}

		table[key] = strings.Join(clean, headerValueSep)
	}
	return table
}

func decodeHeader(table amqp091.Table) http.Header {
	h := http.Header{}
	for key, v := range table {
		var raw string
		switch v := v.(type) {
		case string:
			raw = v
		case []byte:
			raw = string(v)
		default:
			Slog.Error("non-string header", "type", fmt.Sprintf("%T", v), "key", key, "value", v)
			continue
		}
		for _, val := range strings.Split(raw, headerValueSep) {
			h.Add(key, val)
		}
	}
	return h
}
