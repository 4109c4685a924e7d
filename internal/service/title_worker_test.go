package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat-be/internal/constant"
	"voicechat-be/internal/dto"
	"voicechat-be/internal/entity"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/repository/contract"
	"voicechat-be/internal/repository/specification"
	"voicechat-be/internal/repository/unitofwork"
	"voicechat-be/pkg/chat/title"
	"voicechat-be/pkg/llm"
)

// in-memory stand-ins for the repository layer

type fakeConversationRepo struct {
	mu           sync.Mutex
	conversation *entity.Conversation
	updates      int
}

func (f *fakeConversationRepo) Create(ctx context.Context, c *entity.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversation = c
	return nil
}

func (f *fakeConversationRepo) Update(ctx context.Context, c *entity.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversation = c
	f.updates++
	return nil
}

func (f *fakeConversationRepo) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeConversationRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversation, nil
}

func (f *fakeConversationRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Conversation, error) {
	return nil, nil
}

func (f *fakeConversationRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	return 0, nil
}

type fakeUow struct {
	convRepo *fakeConversationRepo
}

func (f *fakeUow) Begin(ctx context.Context) error { return nil }
func (f *fakeUow) Commit() error                   { return nil }
func (f *fakeUow) Rollback() error                 { return nil }

func (f *fakeUow) ConversationRepository() contract.ConversationRepository { return f.convRepo }
func (f *fakeUow) MessageRepository() contract.MessageRepository           { return nil }

type fakeUowFactory struct {
	uow *fakeUow
}

func (f *fakeUowFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork { return f.uow }

type stubLLM struct {
	output string
	err    error
	calls  int
}

func (s *stubLLM) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	return "", errors.New("not used")
}

func (s *stubLLM) ChatStream(ctx context.Context, messages []llm.Message, handler llm.StreamHandler, opts ...llm.Option) error {
	return errors.New("not used")
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	s.calls++
	return s.output, s.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) NotifyTitleUpdated(userId uuid.UUID, conversationId uuid.UUID, newTitle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, newTitle)
}

func serviceTestLogger(t *testing.T) logger.ILogger {
	return logger.NewIsolatedLogger(t.TempDir() + "/service_test.log")
}

func newWorkerFixture(t *testing.T, conv *entity.Conversation, backend *stubLLM) (*titleWorkerService, *fakeConversationRepo, *fakeNotifier) {
	repo := &fakeConversationRepo{conversation: conv}
	notifier := &fakeNotifier{}
	worker := NewTitleWorkerService(
		gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		constant.GenerateTitleTopicName,
		&fakeUowFactory{uow: &fakeUow{convRepo: repo}},
		title.NewSummarizer(backend),
		nil,
		notifier,
		serviceTestLogger(t),
	).(*titleWorkerService)
	return worker, repo, notifier
}

func titleMessage(t *testing.T, conversationId uuid.UUID) *message.Message {
	payload := dto.GenerateTitleMessage{
		ConversationId: conversationId,
		UserMessage:    "Je veux organiser un voyage à Paris",
		ModelReply:     "Très bonne idée, voici quelques pistes.",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), raw)
}

func TestTitleWorkerRewritesPlaceholderTitle(t *testing.T) {
	conv := &entity.Conversation{
		Id:     uuid.New(),
		UserId: uuid.New(),
		Title:  constant.DefaultConversationTitle,
	}
	backend := &stubLLM{output: "Titre: Voyage à Paris"}
	worker, repo, notifier := newWorkerFixture(t, conv, backend)

	worker.processMessage(context.Background(), titleMessage(t, conv.Id))

	assert.Equal(t, "Voyage à Paris", repo.conversation.Title)
	assert.Equal(t, 1, repo.updates)
	require.Len(t, notifier.titles, 1)
	assert.Equal(t, "Voyage à Paris", notifier.titles[0])
}

func TestTitleWorkerSkipsAlreadyTitledConversation(t *testing.T) {
	conv := &entity.Conversation{
		Id:     uuid.New(),
		UserId: uuid.New(),
		Title:  "Recette de crêpes",
	}
	backend := &stubLLM{output: "Autre titre"}
	worker, repo, notifier := newWorkerFixture(t, conv, backend)

	worker.processMessage(context.Background(), titleMessage(t, conv.Id))

	assert.Equal(t, "Recette de crêpes", repo.conversation.Title)
	assert.Zero(t, repo.updates)
	assert.Zero(t, backend.calls)
	assert.Empty(t, notifier.titles)
}

func TestTitleWorkerKeepsPlaceholderOnBackendFailure(t *testing.T) {
	conv := &entity.Conversation{
		Id:     uuid.New(),
		UserId: uuid.New(),
		Title:  constant.DefaultConversationTitle,
	}
	backend := &stubLLM{err: errors.New("quota exceeded")}
	worker, repo, notifier := newWorkerFixture(t, conv, backend)

	worker.processMessage(context.Background(), titleMessage(t, conv.Id))

	assert.Equal(t, constant.DefaultConversationTitle, repo.conversation.Title)
	assert.Zero(t, repo.updates)
	assert.Empty(t, notifier.titles)
}

func TestTitleWorkerIgnoresDeletedConversation(t *testing.T) {
	backend := &stubLLM{output: "Titre"}
	worker, repo, notifier := newWorkerFixture(t, nil, backend)

	worker.processMessage(context.Background(), titleMessage(t, uuid.New()))

	assert.Zero(t, repo.updates)
	assert.Zero(t, backend.calls)
	assert.Empty(t, notifier.titles)
}

func TestTitlePublisherRoundTrip(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	publisher := NewTitlePublisherService(pubSub, constant.GenerateTitleTopicName, serviceTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := pubSub.Subscribe(ctx, constant.GenerateTitleTopicName)
	require.NoError(t, err)

	conversationId := uuid.New()
	publisher.Trigger(conversationId.String(), "Bonjour", "Salut !")

	select {
	case msg := <-messages:
		var payload dto.GenerateTitleMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, conversationId, payload.ConversationId)
		assert.Equal(t, "Bonjour", payload.UserMessage)
		assert.Equal(t, "Salut !", payload.ModelReply)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no title request received")
	}
}
