package bus

import "reflect"

// ResponseAdapter replies with handler results that already are a
// ResponseMessage, converting them once through the injected converter.
// Every other result is left for later subscribers.
type ResponseAdapter struct {
	converter ResponseConverter
}

func NewResponseAdapter(converter ResponseConverter) *ResponseAdapter {
	return &ResponseAdapter{converter: converter}
}

func (a *ResponseAdapter) OnView(ev *ViewEvent) error {
	msg, ok := ev.Result().(ResponseMessage)
	if !ok || isNilPtr(msg) {
		return nil
	}

	reply, err := a.converter.ConvertResponse(msg)
	if err != nil {
		return err
	}
	ev.SetResponse(reply)

	return nil
}

// isNilPtr catches typed nils, ie a (*BytesResponse)(nil) returned as Response.
func isNilPtr(v any) bool {
	val := reflect.ValueOf(v)
	return val.Kind() == reflect.Ptr && val.IsNil()
}
