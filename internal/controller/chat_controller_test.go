package controller

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat-be/internal/dto"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/pkg/serverutils"
	"voicechat-be/pkg/chat/session"
	"voicechat-be/pkg/chat/stream"
)

const testConversationID = "f47ac10b-58cc-4372-a567-0e02b2c3d479"

type stubStore struct{}

func (stubStore) CreateConversation(ctx context.Context, title string) (string, error) {
	return testConversationID, nil
}

func (stubStore) ListMessages(ctx context.Context, conversationID string) ([]session.Message, error) {
	return nil, nil
}

func (stubStore) InsertMessage(ctx context.Context, conversationID, role, content string) error {
	return nil
}

// scriptedExchanger plays back fixed fragments, optionally failing after
// the last one.
type scriptedExchanger struct {
	fragments []string
	err       error
}

func (e *scriptedExchanger) Run(ctx context.Context, history []stream.Turn, message string, sink stream.Sink) (string, error) {
	var b strings.Builder
	for _, f := range e.fragments {
		sink.OnFragment(f)
		b.WriteString(f)
	}
	return b.String(), e.err
}

type stubTitles struct{}

func (stubTitles) Trigger(conversationID, userMessage, modelReply string) {}

type stubChatService struct {
	ctrl *session.Controller
}

func (s *stubChatService) CreateConversation(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error) {
	return nil, nil
}

func (s *stubChatService) GetAllConversations(ctx context.Context, userId uuid.UUID) ([]*dto.ConversationResponse, error) {
	return nil, nil
}

func (s *stubChatService) GetHistory(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) ([]*dto.MessageResponse, error) {
	return nil, nil
}

func (s *stubChatService) DeleteConversation(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) error {
	return nil
}

func (s *stubChatService) OpenSession(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) (*session.Controller, error) {
	if _, err := s.ctrl.EnsureConversation(ctx); err != nil {
		return nil, err
	}
	return s.ctrl, nil
}

// startStreamServer serves the stream route on a real loopback listener.
// The in-memory transport of app.Test cannot observe a dropped
// connection, a real socket can.
func startStreamServer(t *testing.T, exchanger session.Exchanger) string {
	t.Helper()

	log := logger.NewIsolatedLogger(filepath.Join(t.TempDir(), "test.log"))
	ctrl := session.NewController(stubStore{}, exchanger, stubTitles{}, log)
	api := NewChatController(&stubChatService{ctrl: ctrl}, log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(serverutils.ErrorHandlerMiddleware())
	app.Post("/stream", func(c *fiber.Ctx) error {
		c.Locals("user_id", uuid.NewString())
		return api.Stream(c)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})

	return "http://" + ln.Addr().String()
}

func postStream(t *testing.T, base string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, base+"/stream",
		bytes.NewBufferString(`{"message":"Quelle heure est-il ?"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestStreamDeliversFullReply(t *testing.T) {
	base := startStreamServer(t, &scriptedExchanger{fragments: []string{"Il ", "est ", "15h."}})

	resp := postStream(t, base)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testConversationID, resp.Header.Get("X-Conversation-Id"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Il est 15h.", string(body))
}

func TestStreamMidwayFailureBreaksTheConnection(t *testing.T) {
	base := startStreamServer(t, &scriptedExchanger{
		fragments: []string{"Bonj", "our"},
		err:       errors.New("backend gone"),
	})

	resp := postStream(t, base)
	defer resp.Body.Close()

	// Headers are already out when the backend dies, so the status stays
	// 200; the failure must surface on the body read. A partial body that
	// ends cleanly would be indistinguishable from a complete reply.
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.Error(t, err)
	assert.Equal(t, "Bonjour", string(body))
}
