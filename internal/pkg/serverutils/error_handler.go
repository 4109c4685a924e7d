package serverutils

import (
	"errors"

	"voicechat-be/pkg/chat/session"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware maps service errors to HTTP responses.
// Input rejections from the session state machine are not user-facing
// failures; they come back as a plain 200 no-op acknowledgement.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		if errors.Is(err, session.ErrBlankMessage) || errors.Is(err, session.ErrBusy) {
			return ctx.JSON(SuccessResponse[any]("Ignored", nil))
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Message))
		}

		if errors.Is(err, session.ErrConversationNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(ErrorResponse(err.Error()))
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(err.Error()))
	}
}
