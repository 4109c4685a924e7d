package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"voicechat-be/internal/constant"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/pkg/chat/stream"
)

// Message is one entry of the in-memory transcript buffer.
type Message struct {
	Role    string
	Content string
}

// Store is the durable transcript boundary. Implementations bind owner
// identity and enforce ownership themselves; the controller never sees
// user ids.
type Store interface {
	CreateConversation(ctx context.Context, title string) (string, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	InsertMessage(ctx context.Context, conversationID, role, content string) error
}

// Exchanger drives one streaming round trip against the generation
// backend.
type Exchanger interface {
	Run(ctx context.Context, history []stream.Turn, message string, sink stream.Sink) (string, error)
}

// Titles receives the fire-and-forget title generation trigger after the
// first completed exchange. Implementations own their error boundary;
// a failed trigger never reaches the caller.
type Titles interface {
	Trigger(conversationID, userMessage, modelReply string)
}

// Controller owns one conversation's transcript buffer and identity and
// sequences a full exchange: append user message, persist it, stream the
// model reply into an open model message, persist the reply, then
// trigger title summarization on the first completed pair.
//
// At most one exchange is in flight at a time; concurrent submissions
// are rejected, not queued.
type Controller struct {
	store    Store
	exchange Exchanger
	titles   Titles
	log      logger.ILogger

	mu             sync.Mutex
	conversationID string
	buffer         []Message
	inFlight       bool
	epoch          int
}

func NewController(store Store, exchange Exchanger, titles Titles, log logger.ILogger) *Controller {
	return &Controller{
		store:    store,
		exchange: exchange,
		titles:   titles,
		log:      log,
	}
}

// Start binds the controller to an existing conversation and loads its
// transcript, oldest first. An empty id leaves the buffer empty; the
// conversation is then created lazily on the first submission.
func (c *Controller) Start(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.epoch++
	c.conversationID = conversationID
	c.buffer = nil
	c.mu.Unlock()

	if conversationID == "" {
		return nil
	}

	messages, err := c.store.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.buffer = messages
	c.mu.Unlock()
	return nil
}

// Reset discards the transcript buffer and conversation identity,
// returning the controller to its pre-Start state. Callbacks from an
// exchange still draining afterwards become no-ops.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.conversationID = ""
	c.buffer = nil
	c.inFlight = false
}

// ConversationID returns the bound conversation id, empty before the
// first submission of an unbound session.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Transcript returns a copy of the current buffer.
func (c *Controller) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// EnsureConversation creates the conversation with the placeholder title
// if the controller is not yet bound to one, and returns the id.
func (c *Controller) EnsureConversation(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.conversationID
	epoch := c.epoch
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	created, err := c.store.CreateConversation(ctx, constant.DefaultConversationTitle)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.conversationID = created
	}
	c.mu.Unlock()
	return created, nil
}

// Submit runs one full exchange for the given user text. Fragments and
// throughput updates are relayed to sink as they arrive. Blocks until
// the exchange completes or fails.
//
// Blank text returns ErrBlankMessage and a submission while another
// exchange is in flight returns ErrBusy; both leave the buffer
// untouched. A mid-stream backend failure leaves the partial model text
// in the buffer but does not persist it.
func (c *Controller) Submit(ctx context.Context, text string, sink stream.Sink) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankMessage
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.inFlight = true
	epoch := c.epoch

	// History is the transcript as it stood before this submission.
	history := make([]stream.Turn, len(c.buffer))
	for i, m := range c.buffer {
		history[i] = stream.Turn{Role: m.Role, Content: m.Content}
	}
	c.buffer = append(c.buffer, Message{Role: constant.ChatMessageRoleUser, Content: text})
	c.mu.Unlock()

	defer c.clearInFlight(epoch)

	conversationID, err := c.EnsureConversation(ctx)
	if err != nil {
		return err
	}

	// Durability degradation never blocks the exchange; the transcript
	// stays usable in memory.
	if err := c.store.InsertMessage(ctx, conversationID, constant.ChatMessageRoleUser, text); err != nil {
		c.log.Warn("session", "persist user message failed", map[string]interface{}{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	c.buffer = append(c.buffer, Message{Role: constant.ChatMessageRoleModel})
	c.mu.Unlock()

	reply, err := c.exchange.Run(ctx, history, text, &bufferSink{controller: c, epoch: epoch, next: sink})
	if err != nil {
		return fmt.Errorf("exchange failed: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	firstExchange := len(c.buffer) == 2
	c.mu.Unlock()

	if err := c.store.InsertMessage(ctx, conversationID, constant.ChatMessageRoleModel, reply); err != nil {
		c.log.Warn("session", "persist model message failed", map[string]interface{}{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
	}

	if firstExchange {
		c.titles.Trigger(conversationID, text, reply)
	}
	return nil
}

func (c *Controller) clearInFlight(epoch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.inFlight = false
	}
}

// bufferSink appends fragments to the open model message before
// relaying them. After a Reset or re-Start every callback from the stale
// exchange is dropped.
type bufferSink struct {
	controller *Controller
	epoch      int
	next       stream.Sink
}

func (b *bufferSink) OnFragment(text string) {
	c := b.controller
	c.mu.Lock()
	if c.epoch != b.epoch || len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	c.buffer[len(c.buffer)-1].Content += text
	c.mu.Unlock()
	b.next.OnFragment(text)
}

func (b *bufferSink) OnRate(tokensPerSecond float64) {
	c := b.controller
	c.mu.Lock()
	stale := c.epoch != b.epoch
	c.mu.Unlock()
	if stale {
		return
	}
	b.next.OnRate(tokensPerSecond)
}
