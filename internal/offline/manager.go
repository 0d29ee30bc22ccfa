// Package offline implements the offline-first dispatch layer: a durable
// outbox for writes, a cursor-based sync engine for server events, and a
// read cache, all behind a single Dispatch entry point.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmsg/drift/internal/bus"
	"github.com/driftmsg/drift/internal/status"
	"github.com/driftmsg/drift/internal/store"
	"github.com/driftmsg/drift/internal/transport"
)

// Options configures the offline manager.
type Options struct {
	// SyncOnConnect triggers a sync immediately when transitioning online.
	SyncOnConnect bool
	// OutboxRetryLimit bounds attempts per queued operation.
	OutboxRetryLimit int
	// OutboxFlushInterval is the background flush tick.
	OutboxFlushInterval time.Duration
	// ConflictStrategy is recorded for forward compatibility; reducers always
	// treat server data as authoritative.
	ConflictStrategy string
}

// DefaultOptions returns the default manager configuration.
func DefaultOptions() Options {
	return Options{
		SyncOnConnect:       true,
		OutboxRetryLimit:    5,
		OutboxFlushInterval: time.Second,
		ConflictStrategy:    "server",
	}
}

// Manager coordinates the outbox queue, sync engine, and read cache over a
// storage adapter and an injected API requester.
type Manager struct {
	store  store.Adapter
	api    transport.Requester
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	machine *status.Machine

	mu       sync.Mutex
	online   bool
	flushing bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a manager. Zero-valued option fields fall back to defaults;
// the manager starts in the online state.
func New(st store.Adapter, api transport.Requester, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if opts.OutboxRetryLimit <= 0 {
		opts.OutboxRetryLimit = 5
	}
	if opts.OutboxFlushInterval <= 0 {
		opts.OutboxFlushInterval = time.Second
	}
	if opts.ConflictStrategy == "" {
		opts.ConflictStrategy = "server"
	}
	if opts.ConflictStrategy != "server" {
		logger.Warn("unsupported conflict strategy, server data stays authoritative",
			zap.String("strategy", opts.ConflictStrategy))
	}
	return &Manager{
		store:   st,
		api:     api,
		bus:     b,
		logger:  logger,
		opts:    opts,
		machine: status.NewMachine(),
		online:  true,
	}
}

// Start launches the background flush loop. Calling Start on a started
// manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.flushLoop(ctx)
}

// Stop cancels background tasks and waits for them to exit. In-flight
// network attempts are interrupted via context cancellation.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Online reports the current connectivity state.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity transition. Going online kicks an
// immediate flush and, when configured, a sync.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if !online {
		m.emit(EventNetworkOffline, nil)
		return
	}
	m.emit(EventNetworkOnline, nil)
	go func() {
		if err := m.Flush(context.Background()); err != nil {
			m.logger.Error("flush after reconnect failed", zap.Error(err))
		}
	}()
	if m.opts.SyncOnConnect {
		go func() { _ = m.Sync(context.Background()) }()
	}
}

// OutboxSize returns the number of pending queued operations.
func (m *Manager) OutboxSize() (int, error) {
	return m.store.PendingCount()
}

// SearchMessages searches locally cached messages.
func (m *Manager) SearchMessages(query, conversationID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.SearchMessages(query, conversationID, limit)
}

// Dispatch routes an IM request through the offline layer: classified writes
// go to the outbox and return optimistically, reads serve from cache when
// possible and fall back to the network.
func (m *Manager) Dispatch(ctx context.Context, method, path string, body any, query map[string]string) (*transport.Result, error) {
	if opType := Classify(method, path); opType != "" {
		return m.dispatchWrite(ctx, opType, method, path, body, query)
	}

	if method == http.MethodGet {
		cached, err := m.readFromCache(path, query)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	result, err := m.api.Do(ctx, method, path, body, query)
	if err != nil {
		// Reads degrade to an empty successful result while offline.
		if method == http.MethodGet && !m.Online() {
			return &transport.Result{OK: true, Data: json.RawMessage(`[]`)}, nil
		}
		return nil, err
	}
	if method == http.MethodGet {
		if err := m.cacheReadResult(path, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *Manager) dispatchWrite(ctx context.Context, opType, method, path string, body any, query map[string]string) (*transport.Result, error) {
	clientID := uuid.NewString()
	idempotencyKey := "sdk-" + clientID

	enriched := body
	if bodyMap, ok := body.(map[string]any); ok && (opType == store.OpMessageSend || opType == store.OpMessageEdit) {
		enriched = withIdempotencyKey(bodyMap, idempotencyKey)
	}

	var localMsg *store.Message
	if opType == store.OpMessageSend {
		if bodyMap, ok := body.(map[string]any); ok {
			localMsg = optimisticMessage(clientID, path, bodyMap)
			if err := m.store.PutMessages([]*store.Message{localMsg}); err != nil {
				return nil, fmt.Errorf("store optimistic message: %w", err)
			}
			m.emit(EventMessageLocal, localMsg)
		}
	}

	op := &store.Operation{
		ID:             clientID,
		Type:           opType,
		Method:         method,
		Path:           path,
		Body:           enriched,
		Query:          query,
		Status:         store.OpStatusPending,
		CreatedAt:      time.Now(),
		MaxRetries:     m.opts.OutboxRetryLimit,
		IdempotencyKey: idempotencyKey,
		LocalData:      localMsg,
	}
	if err := m.store.Enqueue(op); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", opType, err)
	}

	// Latency-sensitive writes should not wait for the periodic tick.
	if m.Online() {
		go func() {
			if err := m.Flush(context.Background()); err != nil {
				m.logger.Error("immediate flush failed", zap.Error(err))
			}
		}()
	}

	result := &transport.Result{
		OK:   true,
		Meta: map[string]any{"pending": true, "clientId": clientID},
	}
	if localMsg != nil {
		data, err := json.Marshal(map[string]any{
			"conversationId": localMsg.ConversationID,
			"message":        localMsg,
		})
		if err != nil {
			return nil, err
		}
		result.Data = data
	}
	return result, nil
}

func (m *Manager) emit(kind string, payload any) {
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// withIdempotencyKey returns a copy of body with the key injected under
// metadata._idempotencyKey. The caller's map is never mutated.
func withIdempotencyKey(body map[string]any, key string) map[string]any {
	enriched := make(map[string]any, len(body)+1)
	for k, v := range body {
		enriched[k] = v
	}
	meta := make(map[string]any)
	if existing, ok := enriched["metadata"].(map[string]any); ok {
		for k, v := range existing {
			meta[k] = v
		}
	}
	meta["_idempotencyKey"] = key
	enriched["metadata"] = meta
	return enriched
}

func optimisticMessage(clientID, path string, body map[string]any) *store.Message {
	msgType := strOr(body, "type", "text")
	var metadata map[string]any
	if md, ok := body["metadata"].(map[string]any); ok {
		metadata = md
	}
	return &store.Message{
		ID:             "local-" + clientID,
		ClientID:       clientID,
		ConversationID: conversationIDFromPath(path),
		Content:        strOr(body, "content", ""),
		Type:           msgType,
		SenderID:       "__self__",
		ParentID:       strOr(body, "parentId", ""),
		Status:         store.MessageStatusPending,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intOr(m map[string]any, key string, fallback int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return fallback
}
