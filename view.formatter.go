package bus

import (
	"encoding/json"
	"net/http"
	"reflect"
)

var MessageTypeError = "error"

// ReplyFormatter is the catch-all subscriber: it turns any handler result
// into a reply, guessing the wire format from the result's Go type.
type ReplyFormatter struct{}

func (ReplyFormatter) OnView(ev *ViewEvent) error {
	ev.SetResponse(FormatReply(ev.Result()))
	return nil
}

// FormatReply never fails. Unmarshallable bodies are logged and sent empty.
func FormatReply(result Response) *Message {
	reply := &Message{
		Header: http.Header{},
	}

	body := result

	// CustomResponse: custom StatusCode, Header, Type
	var custom *CustomResponse
	switch r := result.(type) {
	case CustomResponse:
		custom = &r
	case *CustomResponse:
		custom = r
	}
	if custom != nil {
		if custom.Header != nil {
			reply.Header = custom.Header.Clone()
		}
		if custom.StatusCode != 0 {
			reply.StatusCode = custom.StatusCode
		}
		if custom.Type != "" {
			reply.Type = custom.Type
		}
		body = custom.Body
	}

	// errors are HTTP 400 unless told otherwise
	if err, ok := body.(error); ok {
		if reply.StatusCode == 0 {
			reply.StatusCode = http.StatusBadRequest // 400
		}
		reply.Type = MessageTypeError
		body = err.Error()
	}

	formatBody(reply, body)

	if reply.StatusCode == 0 {
		reply.StatusCode = http.StatusOK // 200
	}

	return reply
}

func formatBody(reply *Message, body Response) {
	val := reflect.ValueOf(body)
	if !val.IsValid() {
		return // nil
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.String:
		reply.Body = []byte(val.String())
	case reflect.Slice:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			reply.Type = "[]byte"
			reply.Body = val.Bytes()
			return
		}

		reply.Header.Set("Content-Type", "application/json")
		if val.Len() == 0 {
			reply.Body = []byte("[]") // avoid "null" as Body
			return
		}
		reply.Body = marshalBody(body)
	case reflect.Map:
		reply.Header.Set("Content-Type", "application/json")
		reply.Body = marshalBody(body)
	case reflect.Struct:
		reply.Header.Set("Content-Type", "application/json")
		if reply.Type == "" {
			reply.Type = val.Type().Name()
		}
		reply.Body = marshalBody(body)
	default:
		Slog.Error("unexpected ret type", "type", val.Type().String())
	}
}

func marshalBody(body Response) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		Slog.Error("failed to marshal reply body", "err", err)
		return nil
	}
	return data
}
