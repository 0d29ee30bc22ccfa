package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftmsg/drift/internal/bus"
	"github.com/driftmsg/drift/internal/store"
	"github.com/driftmsg/drift/internal/transport"
)

// eventLog collects bus events from any goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func (l *eventLog) record(evt bus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) count(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, evt := range l.events {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) last(kind string) (bus.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return bus.Event{}, false
}

func newTestManager(t *testing.T, api transport.Requester, opts Options) (*Manager, *store.Memory, *eventLog) {
	t.Helper()
	st := store.NewMemory()
	b := bus.New()
	log := &eventLog{}
	b.Subscribe("", log.record)
	m := New(st, api, b, zap.NewNop(), opts)
	return m, st, log
}

func okData(t *testing.T, v any) *transport.Result {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return &transport.Result{OK: true, Data: data}
}

func errResult(code, msg string) *transport.Result {
	return &transport.Result{OK: false, Error: &transport.APIError{Code: code, Message: msg}}
}

func noCallAPI(t *testing.T) transport.Func {
	return func(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
		t.Errorf("unexpected network call: %s %s", method, path)
		return nil, errors.New("unexpected call")
	}
}

func TestDispatchWriteOptimistic(t *testing.T) {
	m, st, log := newTestManager(t, noCallAPI(t), DefaultOptions())
	m.SetOnline(false)

	body := map[string]any{"content": "hello"}
	result, err := m.Dispatch(context.Background(), "POST", "/api/im/messages/conv-1", body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatal("optimistic result should be ok")
	}
	if result.Meta["pending"] != true {
		t.Error("result should be marked pending")
	}
	clientID, _ := result.Meta["clientId"].(string)
	if clientID == "" {
		t.Fatal("result should carry a client id")
	}

	// The caller's body map must not be mutated by key injection.
	if _, ok := body["metadata"]; ok {
		t.Error("original body was mutated")
	}

	msg, err := st.GetMessage("local-" + clientID)
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("optimistic message not stored")
	}
	if msg.Status != store.MessageStatusPending || msg.ClientID != clientID {
		t.Errorf("placeholder = %+v, want pending with client id", msg)
	}
	if msg.SenderID != "__self__" || msg.ConversationID != "conv-1" || msg.Content != "hello" {
		t.Errorf("placeholder fields = %+v", msg)
	}

	ops, err := st.DequeueReady(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("outbox has %d ops, want 1", len(ops))
	}
	op := ops[0]
	if op.ID != clientID || op.IdempotencyKey != "sdk-"+clientID {
		t.Errorf("op identity = %s / %s", op.ID, op.IdempotencyKey)
	}
	enriched, ok := op.Body.(map[string]any)
	if !ok {
		t.Fatalf("op body = %T", op.Body)
	}
	meta, _ := enriched["metadata"].(map[string]any)
	if meta["_idempotencyKey"] != "sdk-"+clientID {
		t.Errorf("idempotency key not injected: %v", enriched)
	}
	if op.LocalData == nil || op.LocalData.ID != msg.ID {
		t.Error("op should back-reference the optimistic message")
	}

	if log.count(EventMessageLocal) != 1 {
		t.Error("message.local not emitted")
	}
}

func TestDispatchReadCacheHit(t *testing.T) {
	m, st, _ := newTestManager(t, noCallAPI(t), DefaultOptions())

	if err := st.PutConversations([]*store.Conversation{
		{ID: "conv-1", Type: "group", UpdatedAt: "2026-01-01T00:00:00Z"},
	}); err != nil {
		t.Fatal(err)
	}

	result, err := m.Dispatch(context.Background(), "GET", "/api/im/conversations", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var convs []*store.Conversation
	if err := result.Decode(&convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "conv-1" {
		t.Errorf("cached read = %v", convs)
	}
}

func TestDispatchReadPopulatesCache(t *testing.T) {
	api := transport.Func(func(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
		return &transport.Result{OK: true, Data: json.RawMessage(
			`[{"id":"srv-1","content":"hi","senderId":"u2","createdAt":"2026-01-01T00:00:00Z"}]`,
		)}, nil
	})
	m, st, _ := newTestManager(t, api, DefaultOptions())

	if _, err := m.Dispatch(context.Background(), "GET", "/api/im/messages/conv-9", nil, nil); err != nil {
		t.Fatal(err)
	}

	msg, err := st.GetMessage("srv-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("read result not cached")
	}
	if msg.ConversationID != "conv-9" || msg.Status != store.MessageStatusConfirmed {
		t.Errorf("cached message = %+v", msg)
	}
}

func TestDispatchOfflineReadDegrades(t *testing.T) {
	api := transport.Func(func(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
		return nil, errors.New("connection refused")
	})
	m, _, _ := newTestManager(t, api, DefaultOptions())
	m.SetOnline(false)

	result, err := m.Dispatch(context.Background(), "GET", "/api/im/threads/t-1", nil, nil)
	if err != nil {
		t.Fatalf("offline read should degrade, got %v", err)
	}
	if !result.OK || string(result.Data) != "[]" {
		t.Errorf("degraded result = %+v, want ok with empty data", result)
	}

	// Online reads propagate the failure instead.
	m.SetOnline(true)
	time.Sleep(20 * time.Millisecond) // let the reconnect flush goroutine settle
	if _, err := m.Dispatch(context.Background(), "GET", "/api/im/threads/t-1", nil, nil); err == nil {
		t.Error("online read failure should propagate")
	}
}

func TestHandleRealtimeEvent(t *testing.T) {
	m, st, _ := newTestManager(t, noCallAPI(t), DefaultOptions())

	err := m.HandleRealtimeEvent("message.new", map[string]any{
		"id":             "srv-7",
		"conversationId": "conv-1",
		"content":        "ping",
		"senderId":       "u2",
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := st.GetMessage("srv-7")
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil || msg.Status != store.MessageStatusConfirmed {
		t.Fatalf("realtime message = %+v, want confirmed", msg)
	}

	if err := m.HandleRealtimeEvent("typing.start", map[string]any{"id": "x"}); err != nil {
		t.Fatal(err)
	}
	if msg, _ := st.GetMessage("x"); msg != nil {
		t.Error("non-message events must not be materialized")
	}
}

func TestSearchMessages(t *testing.T) {
	m, st, _ := newTestManager(t, noCallAPI(t), DefaultOptions())
	_ = st.PutMessages([]*store.Message{
		{ID: "m1", ConversationID: "c1", Content: "Hello there"},
		{ID: "m2", ConversationID: "c2", Content: "bye"},
	})

	results, err := m.SearchMessages("hello", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Errorf("search = %v, want [m1]", results)
	}
}

func TestSetOnlineEmitsTransitions(t *testing.T) {
	m, _, log := newTestManager(t, noCallAPI(t), Options{SyncOnConnect: false})

	m.SetOnline(false)
	m.SetOnline(false) // duplicate transition is silent
	if log.count(EventNetworkOffline) != 1 {
		t.Errorf("network.offline emitted %d times, want 1", log.count(EventNetworkOffline))
	}
}
