package handler

import (
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/pkg/serverutils"
	internalWS "voicechat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// WsHandler owns the two websocket surfaces: the one-directional update
// feed fed by the hub, and the interactive voice session socket.
type WsHandler struct {
	hub          *internalWS.Hub
	voiceHandler *internalWS.VoiceHandler
	logger       logger.ILogger
}

func NewWsHandler(hub *internalWS.Hub, voiceHandler *internalWS.VoiceHandler, log logger.ILogger) *WsHandler {
	return &WsHandler{
		hub:          hub,
		voiceHandler: voiceHandler,
		logger:       log,
	}
}

func (h *WsHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/updates", h.ServeUpdates)
	r.Get("/ws/voice", h.ServeVoice)
}

// ServeUpdates upgrades the connection and parks it on the hub to
// receive conversation title pushes.
func (h *WsHandler) ServeUpdates(c *fiber.Ctx) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return err
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			internalWS.ServeWs(h.hub, conn, userID)
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

// ServeVoice upgrades the connection and runs an interactive chat
// session: dictation in, merged text and streamed replies out.
func (h *WsHandler) ServeVoice(c *fiber.Ctx) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return err
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("WsHandler", "Voice session opened", map[string]interface{}{"user_id": userID})
			h.voiceHandler.Serve(conn, userID)
			h.logger.Info("WsHandler", "Voice session closed", map[string]interface{}{"user_id": userID})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WsHandler) authenticate(c *fiber.Ctx) (uuid.UUID, error) {
	userIDStr, err := serverutils.ParseWsToken(c)
	if err != nil {
		h.logger.Warn("WsHandler", "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return uuid.Nil, fiber.ErrUnauthorized
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return userID, nil
}
