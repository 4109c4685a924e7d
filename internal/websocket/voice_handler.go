package websocket

import (
	"context"
	"errors"
	"sync"

	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/service"
	"voicechat-be/pkg/chat/session"
	"voicechat-be/pkg/chat/voice"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// VoiceHandler runs interactive chat sessions over a websocket: dictation
// events come in, merged display text, reply fragments and throughput
// updates go out. The browser owns the actual microphone and speech
// engine; this side owns the transcript state machines.
type VoiceHandler struct {
	chatService service.IChatService
	logger      logger.ILogger
}

func NewVoiceHandler(chatService service.IChatService, log logger.ILogger) *VoiceHandler {
	return &VoiceHandler{chatService: chatService, logger: log}
}

type inboundVoiceMessage struct {
	Type           string           `json:"type"`
	TypedText      string           `json:"typed_text,omitempty"`
	Supported      bool             `json:"supported,omitempty"`
	Segments       []segmentPayload `json:"segments,omitempty"`
	Message        string           `json:"message,omitempty"`
	ConversationId uuid.UUID        `json:"conversation_id,omitempty"`
}

type segmentPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// voiceSession is the per-connection state: one speech controller, one
// lazily bound chat session, and a serialized writer.
type voiceSession struct {
	handler    *VoiceHandler
	conn       *websocket.Conn
	userID     uuid.UUID
	recognizer *remoteRecognizer
	speech     *voice.Controller

	writeMu sync.Mutex

	ctrlMu sync.Mutex
	ctrl   *session.Controller
}

// Serve drives one voice socket until the peer disconnects.
func (h *VoiceHandler) Serve(c *websocket.Conn, userID uuid.UUID) {
	sess := &voiceSession{
		handler: h,
		conn:    c,
		userID:  userID,
	}
	sess.recognizer = &remoteRecognizer{notifyStop: func() {
		sess.send(map[string]interface{}{"type": "recognizer_stop"})
	}}
	sess.speech = voice.NewController(sess.recognizer, sess)

	defer sess.speech.Stop()

	for {
		var msg inboundVoiceMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start":
			sess.recognizer.setSupported(msg.Supported)
			sess.speech.StartListening(msg.TypedText)
		case "result":
			segments := make([]voice.Segment, len(msg.Segments))
			for i, s := range msg.Segments {
				segments[i] = voice.Segment{Text: s.Text, Final: s.Final}
			}
			sess.recognizer.deliverResult(voice.ResultEvent{Segments: segments})
		case "end":
			sess.recognizer.deliverEnd()
		case "recognizer_error":
			sess.recognizer.deliverError(errors.New("client recognizer error"))
		case "stop":
			sess.speech.Stop()
		case "submit":
			go sess.submit(msg.ConversationId, msg.Message)
		default:
			h.logger.Warn("VoiceHandler", "unknown message type", map[string]interface{}{
				"type":    msg.Type,
				"user_id": userID,
			})
		}
	}
}

// OnDisplay implements voice.Sink.
func (s *voiceSession) OnDisplay(text string) {
	s.send(map[string]interface{}{"type": "display", "text": text})
}

// OnFinalize implements voice.Sink: a confirmed utterance submits
// itself, exactly like a typed message.
func (s *voiceSession) OnFinalize(text string) {
	s.send(map[string]interface{}{"type": "finalize", "text": text})
	go s.submit(uuid.Nil, text)
}

// OnUnsupported implements voice.Sink.
func (s *voiceSession) OnUnsupported() {
	s.send(map[string]interface{}{"type": "unsupported"})
}

// submit runs one full exchange, relaying the reply stream onto the
// socket. Blank and concurrent submissions are dropped without a word,
// matching the typed-input behavior.
func (s *voiceSession) submit(conversationId uuid.UUID, text string) {
	ctx := context.Background()

	ctrl, err := s.sessionController(ctx, conversationId)
	if err != nil {
		s.sendError(err)
		return
	}
	s.send(map[string]interface{}{
		"type":            "conversation",
		"conversation_id": ctrl.ConversationID(),
	})

	err = ctrl.Submit(ctx, text, &socketStreamSink{session: s})
	if err != nil {
		if errors.Is(err, session.ErrBlankMessage) || errors.Is(err, session.ErrBusy) {
			return
		}
		s.handler.logger.Error("VoiceHandler", "exchange failed", map[string]interface{}{
			"user_id": s.userID,
			"error":   err.Error(),
		})
		s.sendError(err)
		return
	}

	transcript := ctrl.Transcript()
	content := ""
	if len(transcript) > 0 {
		content = transcript[len(transcript)-1].Content
	}
	s.send(map[string]interface{}{"type": "done", "content": content})
}

// sessionController binds the connection to its chat session on first
// use. A non-nil conversation id rebinds, so one socket can hop between
// conversations.
func (s *voiceSession) sessionController(ctx context.Context, conversationId uuid.UUID) (*session.Controller, error) {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if s.ctrl != nil && (conversationId == uuid.Nil || s.ctrl.ConversationID() == conversationId.String()) {
		return s.ctrl, nil
	}

	ctrl, err := s.handler.chatService.OpenSession(ctx, s.userID, conversationId)
	if err != nil {
		return nil, err
	}
	s.ctrl = ctrl
	return ctrl, nil
}

func (s *voiceSession) send(payload map[string]interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(payload); err != nil {
		s.handler.logger.Warn("VoiceHandler", "write failed", map[string]interface{}{
			"user_id": s.userID,
			"error":   err.Error(),
		})
	}
}

func (s *voiceSession) sendError(err error) {
	message := "The assistant could not answer, please retry."
	if errors.Is(err, session.ErrConversationNotFound) {
		message = "Conversation not found."
	}
	s.send(map[string]interface{}{"type": "error", "message": message})
}

// socketStreamSink relays reply fragments and the live throughput
// estimate onto the socket as they arrive.
type socketStreamSink struct {
	session *voiceSession
}

func (s *socketStreamSink) OnFragment(text string) {
	s.session.send(map[string]interface{}{"type": "fragment", "text": text})
}

func (s *socketStreamSink) OnRate(tokensPerSecond float64) {
	s.session.send(map[string]interface{}{"type": "rate", "tokens_per_second": tokensPerSecond})
}

// remoteRecognizer bridges the client-side speech engine into the
// recognizer port: the socket read loop feeds it, the speech controller
// consumes it.
type remoteRecognizer struct {
	mu        sync.Mutex
	supported bool
	onResult  func(voice.ResultEvent)
	onError   func(error)
	onEnd     func()

	// asks the client to halt its recognizer
	notifyStop func()
}

func (r *remoteRecognizer) setSupported(supported bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supported = supported
}

func (r *remoteRecognizer) Start(onResult func(voice.ResultEvent), onError func(error), onEnd func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.supported {
		return voice.ErrUnsupported
	}
	r.onResult = onResult
	r.onError = onError
	r.onEnd = onEnd
	return nil
}

func (r *remoteRecognizer) Stop()  { r.notifyStop() }
func (r *remoteRecognizer) Abort() { r.notifyStop() }

func (r *remoteRecognizer) deliverResult(ev voice.ResultEvent) {
	r.mu.Lock()
	cb := r.onResult
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (r *remoteRecognizer) deliverError(err error) {
	r.mu.Lock()
	cb := r.onError
	r.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (r *remoteRecognizer) deliverEnd() {
	r.mu.Lock()
	cb := r.onEnd
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}
