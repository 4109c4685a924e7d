package controller

import (
	"bufio"
	"context"

	"voicechat-be/internal/dto"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/pkg/serverutils"
	"voicechat-be/internal/service"
	"voicechat-be/pkg/chat/session"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	CreateConversation(ctx *fiber.Ctx) error
	ListConversations(ctx *fiber.Ctx) error
	History(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
	Stream(ctx *fiber.Ctx) error
}

type chatController struct {
	chatService service.IChatService
	logger      logger.ILogger
}

func NewChatController(chatService service.IChatService, log logger.ILogger) IChatController {
	return &chatController{
		chatService: chatService,
		logger:      log,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Get("conversations", c.ListConversations)
	h.Post("conversation", c.CreateConversation)
	h.Get("conversation/:id/messages", c.History)
	h.Delete("conversation/:id", c.Delete)
	h.Post("stream", c.Stream)
}

func (c *chatController) CreateConversation(ctx *fiber.Ctx) error {
	userIdStr := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)

	var req dto.CreateConversationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	res, err := c.chatService.CreateConversation(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success create conversation", res))
}

func (c *chatController) ListConversations(ctx *fiber.Ctx) error {
	userIdStr := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)

	res, err := c.chatService.GetAllConversations(ctx.Context(), userId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success list conversations", res))
}

func (c *chatController) History(ctx *fiber.Ctx) error {
	userIdStr := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	res, err := c.chatService.GetHistory(ctx.Context(), userId, id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show history", res))
}

func (c *chatController) Delete(ctx *fiber.Ctx) error {
	userIdStr := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.ErrBadRequest
	}

	if err := c.chatService.DeleteConversation(ctx.Context(), userId, id); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete conversation", nil))
}

// Stream runs one exchange and streams the raw reply text. The body is
// plain text whose concatenation is the full model reply; termination is
// signaled by connection close. The conversation id, created lazily when
// the request carries none, travels in the X-Conversation-Id header.
func (c *chatController) Stream(ctx *fiber.Ctx) error {
	userIdStr := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)

	var req dto.StreamChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	ctrl, err := c.chatService.OpenSession(ctx.Context(), userId, req.ConversationId)
	if err != nil {
		return err
	}

	ctx.Set("X-Conversation-Id", ctrl.ConversationID())
	ctx.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")

	message := req.Message
	log := c.logger
	conn := ctx.Context().Conn()
	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// Runs after the handler returned; the request context is gone by
		// then, so the exchange carries its own.
		err := ctrl.Submit(context.Background(), message, &httpStreamSink{w: w})
		if err != nil {
			if err == session.ErrBusy || err == session.ErrBlankMessage {
				// no-op by contract, the body just stays empty
				return
			}
			log.Error("ChatController", "streamed exchange failed", map[string]interface{}{
				"conversation_id": ctrl.ConversationID(),
				"error":           err.Error(),
			})
			// A clean terminator would make the partial body look like a
			// complete reply. Drop the connection instead so the client
			// observes the stream breaking.
			w.Flush()
			if conn != nil {
				conn.Close()
			}
			return
		}
		w.Flush()
	}))
	return nil
}

// httpStreamSink writes fragments straight onto the response body. The
// throughput side channel has no home on a raw text stream and is
// dropped here; websocket clients get it.
type httpStreamSink struct {
	w *bufio.Writer
}

func (s *httpStreamSink) OnFragment(text string) {
	s.w.WriteString(text)
	s.w.Flush()
}

func (s *httpStreamSink) OnRate(tokensPerSecond float64) {}
