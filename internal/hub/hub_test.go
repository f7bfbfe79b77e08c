package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
)

// fakeTransport records sent frames and can be forced to fail.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection reset")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func testOrder(t *testing.T) *model.Order {
	t.Helper()
	order, err := model.NewOrder("SOL", "USDC", "100")
	require.NoError(t, err)
	return order
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := New()
	order := testOrder(t)

	a, b := &fakeTransport{}, &fakeTransport{}
	h.Register("conn-a", a)
	h.Register("conn-b", b)
	h.Subscribe("conn-a", order.ID)
	h.Subscribe("conn-b", order.ID)

	h.Publish(order)

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestPublishMessageShape(t *testing.T) {
	h := New()
	order := testOrder(t)
	order.Status = model.StatusConfirmed
	order.TxHash = "0xabc"

	tr := &fakeTransport{}
	h.Register("conn", tr)
	h.Subscribe("conn", order.ID)
	h.Publish(order)

	require.Equal(t, 1, tr.count())
	var msg map[string]any
	require.NoError(t, json.Unmarshal(tr.frames[0], &msg))
	assert.Equal(t, "status_update", msg["type"])
	assert.Equal(t, order.ID, msg["orderId"])
	assert.Equal(t, "confirmed", msg["status"])
	assert.NotEmpty(t, msg["timestamp"])

	snapshot, ok := msg["order"].(map[string]any)
	require.True(t, ok, "order snapshot must be embedded")
	assert.Equal(t, "0xabc", snapshot["txHash"])
	assert.Equal(t, "SOL", snapshot["tokenIn"])
	_, hasHistory := snapshot["statusHistory"]
	assert.True(t, hasHistory)
}

func TestNonSubscriberReceivesNothing(t *testing.T) {
	h := New()
	order := testOrder(t)
	other := testOrder(t)

	tr := &fakeTransport{}
	h.Register("conn", tr)
	h.Subscribe("conn", other.ID)

	h.Publish(order)
	assert.Zero(t, tr.count())
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := New()
	order := testOrder(t)

	tr := &fakeTransport{}
	h.Register("conn", tr)
	h.Subscribe("conn", order.ID)
	h.Unregister("conn")
	h.Unregister("conn") // idempotent

	h.Publish(order)
	assert.Zero(t, tr.count())
	assert.True(t, tr.closed)
	assert.Zero(t, h.Observers())
}

func TestFailedSendUnregistersOnlyThatObserver(t *testing.T) {
	h := New()
	order := testOrder(t)

	bad := &fakeTransport{fail: true}
	good := &fakeTransport{}
	h.Register("bad", bad)
	h.Register("good", good)
	h.Subscribe("bad", order.ID)
	h.Subscribe("good", order.ID)

	h.Publish(order)
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, h.Observers())

	// The failing observer is gone; the next publish is clean.
	h.Publish(order)
	assert.Equal(t, 2, good.count())
}

func TestOneConnectionManyOrders(t *testing.T) {
	h := New()
	first := testOrder(t)
	second := testOrder(t)

	tr := &fakeTransport{}
	h.Register("conn", tr)
	h.Subscribe("conn", first.ID)
	h.Subscribe("conn", second.ID)

	h.Publish(first)
	h.Publish(second)
	assert.Equal(t, 2, tr.count())
}

func TestConcurrentRegisterSubscribePublish(t *testing.T) {
	h := New()
	order := testOrder(t)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			connID := string(rune('a' + i%26))
			h.Register(connID, &fakeTransport{})
			h.Subscribe(connID, order.ID)
			h.Unregister(connID)
		}(i)
		go func() {
			defer wg.Done()
			h.Publish(order)
		}()
	}
	wg.Wait()
}
