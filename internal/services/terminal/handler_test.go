package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/connectivity"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/models"
	"pos-terminal/internal/remote"
	"pos-terminal/internal/services/checkout"
	"pos-terminal/internal/services/offline"
	"pos-terminal/internal/services/order"
	"pos-terminal/internal/services/realtime"
	"pos-terminal/internal/storage"
)

type fakeBackend struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
	seq   int
}

func (b *fakeBackend) SubmitOrder(_ context.Context, o models.Order, key string) (*models.AcceptedOrder, error) {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.seq++
	return &models.AcceptedOrder{ID: fmt.Sprintf("ORD_%d", b.seq), ClientRef: key, Total: o.Total}, nil
}

type staticHub struct{ state realtime.State }

func (s staticHub) State() realtime.State { return s.state }

type nopNotifier struct{}

func (nopNotifier) NotifyOrderCreated(string, models.Order)                      {}
func (nopNotifier) NotifyPaymentCompleted(string, models.PaymentMethod, float64) {}

type testAPI struct {
	router  *gin.Engine
	engine  *order.Engine
	queue   *offline.Queue
	coord   *checkout.Coordinator
	monitor *connectivity.Monitor
	backend *fakeBackend
}

func newTestAPI(t *testing.T, online bool) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Nop()
	store := storage.NewMemoryStore()
	m := metrics.New()
	api := &testAPI{
		backend: &fakeBackend{},
		monitor: connectivity.NewMonitor(online, log),
	}
	api.engine = order.NewEngine(store, log, order.Options{OutletID: "outlet-1", StaffID: "staff-1", TaxRate: 0.10})
	api.queue = offline.NewQueue(store, log, "outlet-1")
	api.queue.Load(context.Background())
	api.coord = checkout.NewCoordinator(api.engine, api.backend, api.queue, nopNotifier{}, api.monitor, log, m)
	syncer := offline.NewSyncManager(api.queue, api.backend, api.monitor, log, m)

	api.router = NewHandler(Deps{
		OutletID: "outlet-1",
		StaffID:  "staff-1",
		Engine:   api.engine,
		Checkout: api.coord,
		Queue:    api.queue,
		Sync:     syncer,
		Hub:      staticHub{state: realtime.StateConnected},
		Online:   api.monitor,
		Metrics:  m,
	}, log).Router()
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func (a *testAPI) fillCart(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/order/items", `{"id":"burger","name":"Burger","price":10}`).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/order/table", `{"table_id":"table-2"}`).Code)
}

func TestOrderEditing(t *testing.T) {
	api := newTestAPI(t, true)

	w := api.do(t, http.MethodPost, "/order/items", `{"id":"burger","name":"Burger","price":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	api.do(t, http.MethodPost, "/order/items", `{"id":"burger","name":"Burger","price":10}`)

	o := decodeOrder(t, api.do(t, http.MethodGet, "/order", ""))
	require.Len(t, o.Items, 1)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, 22.00, o.Total)

	o = decodeOrder(t, api.do(t, http.MethodPatch, "/order/items/burger", `{"quantity":5}`))
	assert.Equal(t, 5, o.Items[0].Quantity)

	o = decodeOrder(t, api.do(t, http.MethodPut, "/order/discount", `{"amount":5}`))
	assert.Equal(t, 50.00, o.Subtotal)
	assert.Equal(t, 50.00, o.Total)

	o = decodeOrder(t, api.do(t, http.MethodPut, "/order/table", `{"table_id":"table-9"}`))
	require.NotNil(t, o.TableID)
	assert.Equal(t, "table-9", *o.TableID)

	o = decodeOrder(t, api.do(t, http.MethodPut, "/order/table", `{"table_id":""}`))
	assert.Nil(t, o.TableID)

	o = decodeOrder(t, api.do(t, http.MethodDelete, "/order/items/burger", ""))
	assert.Empty(t, o.Items)
	assert.Equal(t, 0.0, o.Total)
}

func TestOrderEditing_BadInput(t *testing.T) {
	api := newTestAPI(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "missing price", method: http.MethodPost, path: "/order/items", body: `{"id":"x","name":"X"}`},
		{name: "negative price", method: http.MethodPost, path: "/order/items", body: `{"id":"x","name":"X","price":-1}`},
		{name: "missing name", method: http.MethodPost, path: "/order/items", body: `{"id":"x","price":1}`},
		{name: "missing quantity", method: http.MethodPatch, path: "/order/items/x", body: `{}`},
		{name: "negative discount", method: http.MethodPut, path: "/order/discount", body: `{"amount":-2}`},
		{name: "broken json", method: http.MethodPut, path: "/order/discount", body: `{"amount":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestClearOrder(t *testing.T) {
	api := newTestAPI(t, true)
	api.fillCart(t)

	o := decodeOrder(t, api.do(t, http.MethodDelete, "/order", ""))
	assert.Empty(t, o.Items)
	assert.Nil(t, o.TableID)
}

func TestCheckout_Online(t *testing.T) {
	api := newTestAPI(t, true)
	api.fillCart(t)

	w := api.do(t, http.MethodPost, "/checkout", `{"method":"cash","tendered":20}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res checkout.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, checkout.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, "ORD_1", res.OrderID)
	assert.Equal(t, 9.00, res.Change)
	assert.Empty(t, api.engine.Snapshot().Items)
}

func TestCheckout_OfflineQueuesThenSyncs(t *testing.T) {
	api := newTestAPI(t, false)
	api.fillCart(t)

	w := api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var pending []models.PendingOrder
	require.NoError(t, json.Unmarshal(api.do(t, http.MethodGet, "/pending", "").Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPendingSync, pending[0].Status)

	var result offline.SyncResult
	require.NoError(t, json.Unmarshal(api.do(t, http.MethodPost, "/pending/sync", "").Body.Bytes(), &result))
	assert.Equal(t, offline.SkipOffline, result.Skipped)
	assert.Equal(t, 1, result.Remaining)

	api.monitor.Set(true)
	require.NoError(t, json.Unmarshal(api.do(t, http.MethodPost, "/pending/sync", "").Body.Bytes(), &result))
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 0, api.queue.Len())
}

func TestCheckout_ValidationError(t *testing.T) {
	api := newTestAPI(t, true)
	api.do(t, http.MethodPost, "/order/items", `{"id":"burger","name":"Burger","price":10}`)

	w := api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "table_id", body["field"])
	assert.Len(t, api.engine.Snapshot().Items, 1)
}

func TestCheckout_RejectedKeepsCart(t *testing.T) {
	api := newTestAPI(t, true)
	api.backend.err = fmt.Errorf("%w: table closed", remote.ErrRejected)
	api.fillCart(t)

	w := api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Len(t, api.engine.Snapshot().Items, 1)
	assert.Equal(t, 0, api.queue.Len())
}

func TestCheckout_NetworkErrorQueues(t *testing.T) {
	api := newTestAPI(t, true)
	api.backend.err = errors.New("connection refused")
	api.fillCart(t)

	w := api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, api.queue.Len())
}

func TestNextOrderStartsDuringCheckout(t *testing.T) {
	api := newTestAPI(t, true)
	api.backend.block = make(chan struct{})
	api.fillCart(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`)
	}()
	require.Eventually(t, func() bool {
		return api.coord.InFlight() && len(api.engine.Snapshot().Items) == 0
	}, time.Second, time.Millisecond)

	w := api.do(t, http.MethodPost, "/order/items", `{"id":"x","name":"X","price":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeOrder(t, w).Items, 1)
	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`).Code)

	close(api.backend.block)
	w = <-done
	require.Equal(t, http.StatusCreated, w.Code)
	var res checkout.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	for _, item := range res.Order.Items {
		assert.NotEqual(t, "x", item.ID, "the next order's item must not be submitted")
	}

	live := decodeOrder(t, api.do(t, http.MethodGet, "/order", ""))
	require.Len(t, live.Items, 1)
	assert.Equal(t, "x", live.Items[0].ID)
}

func TestStatus(t *testing.T) {
	api := newTestAPI(t, true)
	api.fillCart(t)

	var st statusResponse
	require.NoError(t, json.Unmarshal(api.do(t, http.MethodGet, "/status", "").Body.Bytes(), &st))
	assert.True(t, st.Online)
	assert.Equal(t, realtime.StateConnected, st.HubState)
	assert.Equal(t, 1, st.ItemCount)
	assert.Equal(t, "outlet-1", st.OutletID)
	assert.False(t, st.CheckoutInFlight)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, true)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", "").Code)

	api.fillCart(t)
	api.do(t, http.MethodPost, "/checkout", `{"method":"card"}`)

	w := api.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `pos_checkouts_total{outcome="submitted"} 1`), w.Body.String())
}
