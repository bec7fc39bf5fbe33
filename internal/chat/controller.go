// Package chat drives one review conversation: it assembles context for a
// question, hands the request to the relay and folds the streamed answer back
// into the conversation log.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reviewmate/internal/apperr"
	"github.com/reviewmate/internal/conversation"
	"github.com/reviewmate/internal/logging"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/relay"
)

// MissingKeyHint is added to the conversation when no API key is configured.
const MissingKeyHint = "Set a model API key first: model.api_key in reviewmate.toml or the REVIEWMATE_MODEL__API_KEY environment variable."

const (
	errorPrefix         = "\n\n[error] "
	defaultErrorMessage = "request failed"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// StreamingRequest is the answer currently being streamed.
type StreamingRequest struct {
	RequestID      string
	AssistantIndex int
	Mode           string
}

// Controller owns the context and the conversation of one key. It is not
// safe for concurrent use.
type Controller struct {
	key       string
	assembler *prcontext.Assembler
	store     conversation.Store
	settings  relay.SettingsSource
	logger    zerolog.Logger

	messages  []conversation.Message
	streaming *StreamingRequest

	now   func() time.Time
	newID func() string
}

func NewController(key string, assembler *prcontext.Assembler, store conversation.Store, settings relay.SettingsSource) *Controller {
	return &Controller{
		key:       key,
		assembler: assembler,
		store:     store,
		settings:  settings,
		logger:    logging.Component("chat").With().Str("conversation", key).Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (c *Controller) Key() string                     { return c.key }
func (c *Controller) Assembler() *prcontext.Assembler { return c.assembler }
func (c *Controller) Streaming() *StreamingRequest    { return c.streaming }

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []conversation.Message {
	return append([]conversation.Message(nil), c.messages...)
}

func (c *Controller) message(role conversation.Role, content, display string) conversation.Message {
	return conversation.Message{Role: role, Content: content, Display: display, Timestamp: c.now()}
}

// Load reads the stored conversation.
func (c *Controller) Load(ctx context.Context) error {
	msgs, err := c.store.Load(ctx, c.key)
	if err != nil {
		return err
	}
	c.messages = msgs
	c.streaming = nil
	return nil
}

func (c *Controller) persist(ctx context.Context) {
	if err := c.store.Save(ctx, c.key, c.messages); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to save conversation")
	}
}

// LoadContext loads every context section include asks for and reports the
// resulting status.
func (c *Controller) LoadContext(ctx context.Context, userText string, page prcontext.Page, include prcontext.Include) prcontext.Status {
	c.assembler.EnsureAll(ctx, userText, page, include)
	return c.assembler.Status()
}

// Send prepares a question for the model. It returns the relay request to
// start; the conversation gains the compact user message and an empty
// assistant draft that HandleEvent fills in. Without an API key a hint is
// added instead and a ConfigMissing error returned.
func (c *Controller) Send(ctx context.Context, userText string, page prcontext.Page, include prcontext.Include) (*relay.Inbound, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyMessage
	}

	s := c.settings.Current().Normalize()
	if !s.HasKey() {
		c.messages = append(c.messages, c.message(conversation.RoleAssistant, MissingKeyHint, ""))
		c.persist(ctx)
		return nil, apperr.ConfigMissing("API key is missing")
	}

	c.assembler.EnsureAll(ctx, userText, page, include)
	full := c.assembler.BuildPrompt(userText, page, include)
	compact := c.assembler.BuildCompact(userText, page, include)

	var history []relay.ChatMessage
	for _, m := range c.messages {
		if m.Conversational() {
			history = append(history, relay.ChatMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	history = append(history, relay.ChatMessage{Role: string(conversation.RoleUser), Content: full})

	c.messages = append(c.messages, c.message(conversation.RoleUser, compact, userText))
	id := c.newID()
	c.streaming = &StreamingRequest{RequestID: id, AssistantIndex: len(c.messages), Mode: s.Mode}
	c.messages = append(c.messages, c.message(conversation.RoleAssistant, "", ""))
	c.persist(ctx)

	c.logger.Debug().
		Str("request_id", id).
		Int("history", len(history)-1).
		Int("prompt_chars", len(full)).
		Msg("Prepared model request")

	return &relay.Inbound{Type: relay.TypeStream, RequestID: id, Messages: history}, nil
}

// HandleEvent applies a relay event to the assistant draft. Events of any
// other request are ignored; it reports whether the event was applied.
func (c *Controller) HandleEvent(ctx context.Context, evt relay.Outbound) bool {
	if c.streaming == nil || c.streaming.RequestID != evt.RequestID {
		return false
	}
	idx := c.streaming.AssistantIndex

	switch evt.Type {
	case relay.TypeDelta:
		c.appendDraft(idx, evt.Delta)
	case relay.TypeDone:
		c.finish(ctx)
	case relay.TypeError:
		msg := evt.ErrorMessage()
		if msg == "" {
			msg = defaultErrorMessage
		}
		c.appendDraft(idx, errorPrefix+msg)
		c.finish(ctx)
	default:
		return false
	}
	return true
}

func (c *Controller) appendDraft(idx int, text string) {
	if idx < 0 || idx >= len(c.messages) {
		return
	}
	c.messages[idx].Content += text
}

func (c *Controller) finish(ctx context.Context) {
	c.streaming = nil
	c.persist(ctx)
}

// Abort stops tracking the current request and returns the abort message for
// the relay. The partial answer is kept.
func (c *Controller) Abort(ctx context.Context) (relay.Inbound, bool) {
	if c.streaming == nil {
		return relay.Inbound{}, false
	}
	id := c.streaming.RequestID
	c.finish(ctx)
	return relay.Inbound{Type: relay.TypeAbort, RequestID: id}, true
}

// Clear empties the conversation.
func (c *Controller) Clear(ctx context.Context) error {
	c.messages = nil
	c.streaming = nil
	return c.store.Clear(ctx, c.key)
}
