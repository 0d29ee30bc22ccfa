package offline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driftmsg/drift/internal/store"
	"github.com/driftmsg/drift/internal/transport"
)

// flushBatchSize bounds the operations drained per flush pass.
const flushBatchSize = 10

func (m *Manager) flushLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.OutboxFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				m.logger.Error("outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush drains one batch of ready operations FIFO. Single-flight: a call
// while another flush runs, or while offline, is a no-op. Storage failures
// abort the pass and propagate.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.flushing || !m.online {
		m.mu.Unlock()
		return nil
	}
	m.flushing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.flushing = false
		m.mu.Unlock()
	}()

	ops, err := m.store.DequeueReady(flushBatchSize)
	if err != nil {
		return fmt.Errorf("dequeue outbox: %w", err)
	}
	for _, op := range ops {
		if err := m.attempt(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) attempt(ctx context.Context, op *store.Operation) error {
	m.emit(EventOutboxSending, OutboxSending{OpID: op.ID, Type: op.Type})

	result, err := m.api.Do(ctx, op.Method, op.Path, op.Body, op.Query)
	if err != nil {
		// Transport failures are transient by definition.
		return m.failOp(op, err.Error(), true)
	}
	if result.OK {
		return m.confirmOp(op, result)
	}

	errMsg := "request failed"
	errCode := ""
	if result.Error != nil {
		errMsg = result.Error.Message
		errCode = result.Error.Code
	}
	transient := strings.Contains(errCode, "TIMEOUT") || strings.Contains(errCode, "NETWORK")
	return m.failOp(op, errMsg, transient)
}

func (m *Manager) confirmOp(op *store.Operation, result *transport.Result) error {
	if err := m.store.Ack(op.ID); err != nil {
		return fmt.Errorf("ack %s: %w", op.ID, err)
	}
	m.emit(EventOutboxConfirmed, OutboxConfirmed{OpID: op.ID, Type: op.Type})

	if op.Type != store.OpMessageSend || op.LocalData == nil {
		return nil
	}

	var payload struct {
		Message *store.Message `json:"message"`
	}
	if err := result.Decode(&payload); err != nil || payload.Message == nil || payload.Message.ID == "" {
		// No server message in the response; the placeholder stays until the
		// sync log delivers the confirmed record.
		return nil
	}

	if err := m.store.DeleteMessage(op.LocalData.ID); err != nil {
		return fmt.Errorf("delete placeholder %s: %w", op.LocalData.ID, err)
	}
	msg := payload.Message
	msg.ClientID = op.ID
	msg.Status = store.MessageStatusConfirmed
	if msg.ConversationID == "" {
		msg.ConversationID = op.LocalData.ConversationID
	}
	if msg.Content == "" {
		msg.Content = op.LocalData.Content
	}
	if msg.Type == "" {
		msg.Type = op.LocalData.Type
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = op.LocalData.CreatedAt
	}
	if err := m.store.PutMessages([]*store.Message{msg}); err != nil {
		return fmt.Errorf("store confirmed message: %w", err)
	}
	m.emit(EventMessageConfirmed, MessageConfirmed{ClientID: op.ID, Message: msg})
	return nil
}

// failOp records a failed attempt. Permanent failures are forced to the
// retry ceiling so they never run again.
func (m *Manager) failOp(op *store.Operation, errMsg string, transient bool) error {
	retries := op.MaxRetries
	if transient {
		retries = op.Retries + 1
	}
	if err := m.store.Nack(op.ID, errMsg, retries); err != nil {
		return fmt.Errorf("nack %s: %w", op.ID, err)
	}

	retriesLeft := op.MaxRetries - retries
	if retriesLeft < 0 {
		retriesLeft = 0
	}
	m.emit(EventOutboxFailed, OutboxFailed{OpID: op.ID, Type: op.Type, Err: errMsg, RetriesLeft: retriesLeft})

	if retriesLeft > 0 {
		return nil
	}

	if op.Type == store.OpMessageSend {
		if op.LocalData != nil {
			placeholder, err := m.store.GetMessage(op.LocalData.ID)
			if err != nil {
				return err
			}
			if placeholder != nil {
				placeholder.Status = store.MessageStatusFailed
				if err := m.store.PutMessages([]*store.Message{placeholder}); err != nil {
					return fmt.Errorf("mark placeholder failed: %w", err)
				}
			}
		}
		m.emit(EventMessageFailed, MessageFailed{ClientID: op.ID, Err: errMsg})
	}
	return nil
}
