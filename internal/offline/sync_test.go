package offline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/driftmsg/drift/internal/store"
	"github.com/driftmsg/drift/internal/transport"
)

// pagedSyncAPI serves canned sync pages keyed by the since parameter.
func pagedSyncAPI(t *testing.T, pages map[string]any) (transport.Func, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var since []string
	fn := func(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
		if method != "GET" || path != "/api/im/sync" {
			t.Errorf("unexpected call: %s %s", method, path)
			return nil, errors.New("unexpected call")
		}
		mu.Lock()
		since = append(since, query["since"])
		mu.Unlock()
		page, ok := pages[query["since"]]
		if !ok {
			t.Errorf("no page for since=%s", query["since"])
			return nil, errors.New("no page")
		}
		return okData(t, page), nil
	}
	return fn, &since
}

func messageNewEvent(seq int64, id, content string) map[string]any {
	return map[string]any{
		"seq":  seq,
		"type": "message.new",
		"at":   "2026-01-01T00:00:00Z",
		"data": map[string]any{
			"id":             id,
			"conversationId": "conv-1",
			"content":        content,
			"senderId":       "u2",
		},
	}
}

func TestSyncTwoPages(t *testing.T) {
	api, since := pagedSyncAPI(t, map[string]any{
		"0": map[string]any{
			"events":  []any{messageNewEvent(1, "srv-1", "one")},
			"cursor":  1,
			"hasMore": true,
		},
		"1": map[string]any{
			"events":  []any{messageNewEvent(2, "srv-2", "two")},
			"cursor":  2,
			"hasMore": false,
		},
	})
	m, st, log := newTestManager(t, api, Options{SyncOnConnect: false})

	if err := m.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := *since; len(got) != 2 || got[0] != "0" || got[1] != "1" {
		t.Errorf("page requests = %v, want [0 1]", got)
	}
	for _, id := range []string{"srv-1", "srv-2"} {
		msg, err := st.GetMessage(id)
		if err != nil {
			t.Fatal(err)
		}
		if msg == nil || msg.Status != store.MessageStatusConfirmed {
			t.Errorf("message %s = %+v, want confirmed", id, msg)
		}
	}
	cursor, _ := st.GetCursor("global_sync")
	if cursor != "2" {
		t.Errorf("cursor = %q, want 2", cursor)
	}
	if log.count(EventSyncComplete) != 1 {
		t.Fatalf("sync.complete emitted %d times, want 1", log.count(EventSyncComplete))
	}
	evt, _ := log.last(EventSyncComplete)
	if payload := evt.Payload.(SyncComplete); payload.NewMessages != 2 {
		t.Errorf("new messages = %d, want 2", payload.NewMessages)
	}
	if log.count(EventSyncProgress) != 2 {
		t.Errorf("sync.progress emitted %d times, want 2", log.count(EventSyncProgress))
	}
}

func TestSyncCursorMonotonic(t *testing.T) {
	api, _ := pagedSyncAPI(t, map[string]any{
		"0": map[string]any{"events": []any{messageNewEvent(3, "srv-1", "x")}, "cursor": 3, "hasMore": false},
		"3": map[string]any{"events": []any{}, "cursor": 3, "hasMore": false},
	})
	m, st, _ := newTestManager(t, api, Options{SyncOnConnect: false})

	if err := m.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := st.GetCursor("global_sync")

	if err := m.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, _ := st.GetCursor("global_sync")

	if second < first {
		t.Errorf("cursor regressed: %s -> %s", first, second)
	}
}

func TestSyncErrorThenRecovers(t *testing.T) {
	var mu sync.Mutex
	fail := true
	api := transport.Func(func(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
		mu.Lock()
		shouldFail := fail
		mu.Unlock()
		if shouldFail {
			return nil, errors.New("connection reset")
		}
		return okData(t, map[string]any{"events": []any{}, "cursor": 1, "hasMore": false}), nil
	})
	m, _, log := newTestManager(t, api, Options{SyncOnConnect: false})

	if err := m.Sync(context.Background()); err == nil {
		t.Fatal("sync should report the transport failure")
	}
	if log.count(EventSyncError) != 1 {
		t.Error("sync.error not emitted")
	}
	if log.count(EventSyncComplete) != 0 {
		t.Error("sync.complete emitted for a failed sync")
	}

	// A later call retries out of the error state.
	mu.Lock()
	fail = false
	mu.Unlock()
	if err := m.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if log.count(EventSyncComplete) != 1 {
		t.Error("sync.complete not emitted after recovery")
	}
}

func TestSyncRejectedEnvelope(t *testing.T) {
	api := transport.Func(func(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
		return errResult("UNAUTHORIZED", "bad token"), nil
	})
	m, st, _ := newTestManager(t, api, Options{SyncOnConnect: false})

	if err := m.Sync(context.Background()); err == nil {
		t.Fatal("rejected sync should return an error")
	}
	if cursor, _ := st.GetCursor("global_sync"); cursor != "" {
		t.Errorf("cursor advanced to %q on a failed sync", cursor)
	}
}

func TestSyncOfflineIsNoop(t *testing.T) {
	m, _, log := newTestManager(t, noCallAPI(t), Options{SyncOnConnect: false})
	m.SetOnline(false)

	if err := m.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if log.count(EventSyncStart) != 0 {
		t.Error("offline sync should not start")
	}
}

func TestReducersIdempotent(t *testing.T) {
	m, st, _ := newTestManager(t, noCallAPI(t), Options{SyncOnConnect: false})

	apply := func(ev *SyncEvent) {
		t.Helper()
		for i := 0; i < 2; i++ {
			if err := m.applySyncEvent(ev); err != nil {
				t.Fatal(err)
			}
		}
	}

	apply(&SyncEvent{Seq: 1, Type: "conversation.create", At: "t1", Data: map[string]any{
		"id":      "conv-1",
		"type":    "group",
		"title":   "team",
		"members": []any{map[string]any{"userId": "u1", "role": "owner"}},
	}})
	conv, _ := st.GetConversation("conv-1")
	if conv == nil || len(conv.Members) != 1 {
		t.Fatalf("conversation after create = %+v", conv)
	}

	apply(&SyncEvent{Seq: 2, Type: "participant.add", At: "t2", Data: map[string]any{
		"conversationId": "conv-1",
		"userId":         "u2",
		"username":       "bob",
	}})
	conv, _ = st.GetConversation("conv-1")
	if len(conv.Members) != 2 {
		t.Errorf("members after add applied twice = %d, want 2", len(conv.Members))
	}

	apply(&SyncEvent{Seq: 3, Type: "participant.remove", At: "t3", Data: map[string]any{
		"conversationId": "conv-1",
		"userId":         "u1",
	}})
	conv, _ = st.GetConversation("conv-1")
	if len(conv.Members) != 1 || conv.Members[0].UserID != "u2" {
		t.Errorf("members after remove = %+v", conv.Members)
	}

	apply(&SyncEvent{Seq: 4, Type: "conversation.archive", At: "t4", Data: map[string]any{"id": "conv-1"}})
	conv, _ = st.GetConversation("conv-1")
	if conv.Metadata["_archived"] != true {
		t.Error("conversation not archived")
	}
	if conv.SyncSeq != 4 {
		t.Errorf("conversation sync seq = %d, want 4", conv.SyncSeq)
	}

	apply(&SyncEvent{Seq: 5, Type: "message.new", At: "t5", Data: map[string]any{
		"id": "srv-1", "conversationId": "conv-1", "content": "hello", "senderId": "u2",
	}})
	msgs, _ := st.ListMessages("conv-1", 10, "")
	if len(msgs) != 1 {
		t.Fatalf("messages after new applied twice = %d, want 1", len(msgs))
	}

	apply(&SyncEvent{Seq: 6, Type: "message.edit", At: "t6", Data: map[string]any{
		"id": "srv-1", "content": "edited",
	}})
	msg, _ := st.GetMessage("srv-1")
	if msg.Content != "edited" || msg.SyncSeq != 6 {
		t.Errorf("message after edit = %+v", msg)
	}

	apply(&SyncEvent{Seq: 7, Type: "message.delete", At: "t7", Data: map[string]any{"id": "srv-1"}})
	if msg, _ := st.GetMessage("srv-1"); msg != nil {
		t.Error("message not deleted")
	}

	// Reducers for unknown entities are silent no-ops.
	apply(&SyncEvent{Seq: 8, Type: "message.edit", At: "t8", Data: map[string]any{"id": "ghost"}})
	apply(&SyncEvent{Seq: 9, Type: "conversation.archive", At: "t9", Data: map[string]any{"id": "ghost"}})
}

func TestReducerSkipsStaleSeq(t *testing.T) {
	m, st, _ := newTestManager(t, noCallAPI(t), Options{SyncOnConnect: false})

	if err := m.applySyncEvent(&SyncEvent{Seq: 5, Type: "message.new", At: "t1", Data: map[string]any{
		"id": "srv-1", "conversationId": "conv-1", "content": "newest", "senderId": "u2",
	}}); err != nil {
		t.Fatal(err)
	}

	// A replayed event with an older sequence number must not win.
	if err := m.applySyncEvent(&SyncEvent{Seq: 3, Type: "message.edit", At: "t0", Data: map[string]any{
		"id": "srv-1", "content": "stale",
	}}); err != nil {
		t.Fatal(err)
	}

	msg, _ := st.GetMessage("srv-1")
	if msg.Content != "newest" || msg.SyncSeq != 5 {
		t.Errorf("stale event overrode newer state: %+v", msg)
	}
}
