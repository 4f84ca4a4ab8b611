package bus

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSub(order *[]string, name string) ViewFunc {
	return func(*ViewEvent) error {
		*order = append(*order, name)
		return nil
	}
}

func TestViewDispatcher_PriorityOrder(t *testing.T) {
	var order []string
	d := NewViewDispatcher()
	d.Subscribe(recordingSub(&order, "low"), -10)
	d.Subscribe(recordingSub(&order, "high"), 10)
	d.Subscribe(recordingSub(&order, "mid-1"), 0)
	d.Subscribe(recordingSub(&order, "mid-2"), 0)

	require.NoError(t, d.Dispatch(NewViewEvent(nil, nil)))
	assert.Equal(t, []string{"high", "mid-1", "mid-2", "low"}, order)
	assert.Equal(t, 4, d.Len())
}

func TestViewDispatcher_ExtremePriorities(t *testing.T) {
	var order []string
	d := NewViewDispatcher()
	d.Subscribe(recordingSub(&order, "min"), math.MinInt)
	d.Subscribe(recordingSub(&order, "one"), 1)
	d.Subscribe(recordingSub(&order, "max"), math.MaxInt)
	d.Subscribe(recordingSub(&order, "minus-one"), -1)

	require.NoError(t, d.Dispatch(NewViewEvent(nil, nil)))
	assert.Equal(t, []string{"max", "one", "minus-one", "min"}, order)
}

func TestViewDispatcher_RecordsResponder(t *testing.T) {
	setter := ViewFunc(func(ev *ViewEvent) error {
		ev.SetResponse(&Message{})
		return nil
	})

	d := NewViewDispatcher()
	d.Subscribe(recordingSub(new([]string), "first"), 10)
	d.Subscribe(setter, 5)

	ev := NewViewEvent(nil, nil)
	require.NoError(t, d.Dispatch(ev))
	require.NotNil(t, ev.Responder())
	_, isFunc := ev.Responder().(ViewFunc)
	assert.True(t, isFunc)

	ev = NewViewEvent(nil, nil)
	require.NoError(t, NewViewDispatcher().Dispatch(ev))
	assert.Nil(t, ev.Responder())
}

func TestViewDispatcher_StopsOnceResponseSet(t *testing.T) {
	var order []string
	reply := &Message{StatusCode: 201}

	d := NewViewDispatcher()
	d.Subscribe(recordingSub(&order, "first"), 10)
	d.Subscribe(ViewFunc(func(ev *ViewEvent) error {
		order = append(order, "setter")
		ev.SetResponse(reply)
		return nil
	}), 5)
	d.Subscribe(recordingSub(&order, "never"), 0)

	ev := NewViewEvent(nil, "result")
	require.NoError(t, d.Dispatch(ev))

	assert.Equal(t, []string{"first", "setter"}, order)
	assert.Same(t, reply, ev.Response())
}

func TestViewDispatcher_StopPropagationWithoutResponse(t *testing.T) {
	var order []string
	d := NewViewDispatcher()
	d.Subscribe(ViewFunc(func(ev *ViewEvent) error {
		ev.StopPropagation()
		return nil
	}), 1)
	d.Subscribe(recordingSub(&order, "never"), 0)

	ev := NewViewEvent(nil, nil)
	require.NoError(t, d.Dispatch(ev))
	assert.Empty(t, order)
	assert.False(t, ev.HasResponse())
}

func TestViewDispatcher_ErrorReturnedAsIs(t *testing.T) {
	var order []string
	subErr := errors.New("subscriber failed")

	d := NewViewDispatcher()
	d.Subscribe(ViewFunc(func(*ViewEvent) error { return subErr }), 1)
	d.Subscribe(recordingSub(&order, "never"), 0)

	err := d.Dispatch(NewViewEvent(nil, nil))
	assert.Same(t, subErr, err)
	assert.Empty(t, order)
}

func TestViewDispatcher_EmptyChain(t *testing.T) {
	ev := NewViewEvent(nil, "x")
	require.NoError(t, NewViewDispatcher().Dispatch(ev))
	assert.False(t, ev.HasResponse())
}

func TestViewDispatcher_ConcurrentDispatch(t *testing.T) {
	d := NewViewDispatcher()
	d.Subscribe(NewResponseAdapter(&MessageFactory{}), PriorityResponseAdapter)
	d.Subscribe(ReplyFormatter{}, PriorityReplyFormatter)

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			var result Response = i
			if i%2 == 0 {
				result = NewBytesResponse(202, nil, []byte("even"))
			}
			ev := NewViewEvent(nil, result)
			assert.NoError(t, d.Dispatch(ev))
			assert.True(t, ev.HasResponse())
		}(i)
	}

	// late subscriber registration must not race with dispatches
	d.Subscribe(ViewFunc(func(*ViewEvent) error { return nil }), 100)
	wg.Wait()
}

func TestViewEvent_Context(t *testing.T) {
	ev := NewViewEvent(nil, nil)
	assert.NotNil(t, ev.Context())
	assert.NoError(t, ev.Context().Err())

	req := &Message{MsgID: "abc"}
	ev = NewViewEvent(req, nil)
	assert.Same(t, req, ev.Request())
	assert.NotNil(t, ev.Context())
}
