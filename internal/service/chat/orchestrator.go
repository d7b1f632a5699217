// Package chat composes the turn pipeline: mask the inbound message, resolve
// the conversation, invoke the model, restore placeholders in the reply,
// persist both sides of the turn, and update the usage accounting.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/schema"

	"github.com/officeai/privacy-gateway/internal/model/chat"
	"github.com/officeai/privacy-gateway/internal/redact"
	"github.com/officeai/privacy-gateway/internal/service/ai"
	"github.com/officeai/privacy-gateway/internal/service/billing"
	"github.com/officeai/privacy-gateway/internal/service/session"
	"github.com/officeai/privacy-gateway/internal/storage"
)

// Validation errors surfaced before any external call.
var (
	ErrMessageRequired  = errors.New("message is required")
	ErrIdentityRequired = errors.New("tenant id and user id are required")
)

// Masker produces the masked form of inbound text plus its placeholder
// mapping.
type Masker interface {
	Mask(ctx context.Context, text string) (string, redact.Mapping, error)
}

// Invoker is the model invocation adapter.
type Invoker interface {
	Send(ctx context.Context, sess *session.Session, message string) (string, ai.Usage, error)
	SendStream(ctx context.Context, sess *session.Session, message string) (*schema.StreamReader[*schema.Message], error)
	Finalize(sess *session.Session, chunks []*schema.Message) (string, ai.Usage, error)
	StreamingEnabled() bool
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	TenantID       string `json:"tenantId"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	Topic          string `json:"topic,omitempty"`
	Message        string `json:"message"`
	Debug          bool   `json:"debug,omitempty"`
}

// TurnResult is returned to the caller after a completed turn. MaskedMessage
// and Mapping are populated only when the request asked for debug output.
type TurnResult struct {
	ConversationID string         `json:"conversation_id"`
	BotMessage     string         `json:"bot_message"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	CostUSD        float64        `json:"cost_usd"`
	MaskingWarning bool           `json:"masking_warning,omitempty"`
	MaskedMessage  string         `json:"masked_message,omitempty"`
	Mapping        redact.Mapping `json:"mapping,omitempty"`
}

// Orchestrator wires the per-turn collaborators together.
type Orchestrator struct {
	masker     Masker
	invoker    Invoker
	store      *storage.Store
	sessions   *session.Store
	accountant *billing.Accountant
}

// NewOrchestrator creates the turn pipeline.
func NewOrchestrator(masker Masker, invoker Invoker, store *storage.Store, sessions *session.Store, accountant *billing.Accountant) *Orchestrator {
	return &Orchestrator{
		masker:     masker,
		invoker:    invoker,
		store:      store,
		sessions:   sessions,
		accountant: accountant,
	}
}

// Converse runs one whole-response turn.
func (o *Orchestrator) Converse(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	masked, mapping, conv, err := o.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	sess := o.sessions.Acquire(conv.ID)
	defer sess.Unlock()

	full, usage, err := o.invoker.Send(ctx, sess, masked)
	if err != nil {
		return nil, err
	}

	return o.completeTurn(conv.ID, req, full, masked, mapping, usage)
}

// ConverseStream runs one streaming turn, calling emit with each restored
// fragment as it arrives. If emit reports the caller gone, the turn is
// abandoned: no assistant message is persisted and no usage is accrued.
// When the adapter has streaming disabled, the turn runs in whole-response
// mode and the restored reply is emitted as a single fragment.
func (o *Orchestrator) ConverseStream(ctx context.Context, req TurnRequest, emit func(delta string) error) (*TurnResult, error) {
	masked, mapping, conv, err := o.beginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	sess := o.sessions.Acquire(conv.ID)
	defer sess.Unlock()

	if !o.invoker.StreamingEnabled() {
		full, usage, err := o.invoker.Send(ctx, sess, masked)
		if err != nil {
			return nil, err
		}
		if err := emit(redact.Restore(full, mapping)); err != nil {
			return nil, fmt.Errorf("stream abandoned: %w", err)
		}
		return o.completeTurn(conv.ID, req, full, masked, mapping, usage)
	}

	stream, err := o.invoker.SendStream(ctx, sess, masked)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, fmt.Errorf("%w: %v", ai.ErrModelUnavailable, recvErr)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}
		// Best-effort restoration per fragment; a placeholder split across
		// fragments is caught by the final restored message.
		if err := emit(redact.Restore(chunk.Content, mapping)); err != nil {
			return nil, fmt.Errorf("stream abandoned: %w", err)
		}
	}

	full, usage, err := o.invoker.Finalize(sess, chunks)
	if err != nil {
		return nil, err
	}

	return o.completeTurn(conv.ID, req, full, masked, mapping, usage)
}

// Transcript returns a conversation's persisted messages.
func (o *Orchestrator) Transcript(conversationID string) ([]chat.Message, error) {
	return o.store.Messages(conversationID)
}

// beginTurn masks the inbound message and commits the conversation row plus
// the masked user message in one transaction. The commit happens before the
// model call, so a model failure leaves the inbound message durable.
func (o *Orchestrator) beginTurn(ctx context.Context, req TurnRequest) (string, redact.Mapping, chat.Conversation, error) {
	if req.Message == "" {
		return "", nil, chat.Conversation{}, ErrMessageRequired
	}
	if req.TenantID == "" || req.UserID == "" {
		return "", nil, chat.Conversation{}, ErrIdentityRequired
	}

	masked, mapping, err := o.masker.Mask(ctx, req.Message)
	if err != nil {
		return "", nil, chat.Conversation{}, err
	}

	var conv chat.Conversation
	err = o.store.WithTx(func(tx *storage.Tx) error {
		if req.ConversationID != "" {
			existing, err := tx.FindConversation(req.ConversationID)
			if err != nil {
				return err
			}
			if existing != nil {
				conv = *existing
			}
		}
		if conv.ID == "" {
			created, err := tx.CreateConversation(chat.Conversation{
				ID:       req.ConversationID,
				TenantID: req.TenantID,
				UserID:   req.UserID,
				Topic:    req.Topic,
			})
			if err != nil {
				return err
			}
			conv = created
		}

		_, err := tx.AppendMessage(chat.Message{
			ConversationID: conv.ID,
			Role:           chat.RoleUser,
			Content:        masked,
		})
		return err
	})
	if err != nil {
		return "", nil, chat.Conversation{}, err
	}

	return masked, mapping, conv, nil
}

// completeTurn restores the model output, persists it, accrues usage, and
// assembles the result record.
func (o *Orchestrator) completeTurn(conversationID string, req TurnRequest, full, masked string, mapping redact.Mapping, usage ai.Usage) (*TurnResult, error) {
	restored := redact.Restore(full, mapping)

	warning := false
	if len(mapping) > 0 && redact.ContainsPlaceholder(restored) {
		warning = true
		log.Printf("[chat] restored output for conversation=%s still contains a placeholder token", conversationID)
	}

	err := o.store.WithTx(func(tx *storage.Tx) error {
		_, err := tx.AppendMessage(chat.Message{
			ConversationID: conversationID,
			Role:           chat.RoleAssistant,
			Content:        restored,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	sess := o.sessions.GetOrCreate(conversationID)
	charge := o.accountant.Accrue(sess, usage.InputTokens, usage.OutputTokens)

	result := &TurnResult{
		ConversationID: conversationID,
		BotMessage:     restored,
		InputTokens:    charge.TotalInputTokens,
		OutputTokens:   charge.TotalOutputTokens,
		CostUSD:        charge.TotalCostUSD,
		MaskingWarning: warning,
	}
	if req.Debug {
		result.MaskedMessage = masked
		result.Mapping = mapping
	}
	return result, nil
}
