package service

import (
	"context"
	"time"

	"voicechat-be/internal/constant"
	"voicechat-be/internal/dto"
	"voicechat-be/internal/entity"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/repository/memory"
	"voicechat-be/internal/repository/specification"
	"voicechat-be/internal/repository/unitofwork"
	"voicechat-be/pkg/chat/session"
	"voicechat-be/pkg/chat/stream"
	"voicechat-be/pkg/events"
	"voicechat-be/pkg/llm"
	pktNats "voicechat-be/pkg/nats"

	"github.com/google/uuid"
)

type IChatService interface {
	CreateConversation(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error)
	GetAllConversations(ctx context.Context, userId uuid.UUID) ([]*dto.ConversationResponse, error)
	GetHistory(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) ([]*dto.MessageResponse, error)
	DeleteConversation(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) error

	// OpenSession returns the live session controller for the given
	// conversation, creating both the controller and, for a nil id, the
	// conversation itself. The returned controller is already bound to a
	// conversation id.
	OpenSession(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) (*session.Controller, error)
}

type chatService struct {
	uowFactory     unitofwork.RepositoryFactory
	registry       *memory.SessionRegistry
	provider       llm.LLMProvider
	titles         session.Titles
	eventPublisher *pktNats.Publisher
	logger         logger.ILogger
}

func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	registry *memory.SessionRegistry,
	provider llm.LLMProvider,
	titles session.Titles,
	eventPublisher *pktNats.Publisher,
	log logger.ILogger,
) IChatService {
	return &chatService{
		uowFactory:     uowFactory,
		registry:       registry,
		provider:       provider,
		titles:         titles,
		eventPublisher: eventPublisher,
		logger:         log,
	}
}

func (c *chatService) CreateConversation(ctx context.Context, userId uuid.UUID, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error) {
	title := req.Title
	if title == "" {
		title = constant.DefaultConversationTitle
	}

	uow := c.uowFactory.NewUnitOfWork(ctx)
	conversation := entity.Conversation{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		CreatedAt: time.Now(),
	}
	if err := uow.ConversationRepository().Create(ctx, &conversation); err != nil {
		return nil, err
	}

	c.publishEvent(ctx, events.NewConversationCreated(conversation.Id.String(), userId.String()))

	return &dto.CreateConversationResponse{
		Id:    conversation.Id,
		Title: conversation.Title,
	}, nil
}

func (c *chatService) GetAllConversations(ctx context.Context, userId uuid.UUID) ([]*dto.ConversationResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	conversations, err := uow.ConversationRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.NotDeleted{},
		specification.OrderBy{Field: "COALESCE(updated_at, created_at)", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationResponse, len(conversations))
	for i, conv := range conversations {
		res[i] = &dto.ConversationResponse{
			Id:        conv.Id,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
	}
	return res, nil
}

func (c *chatService) GetHistory(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) ([]*dto.MessageResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: conversationId},
		specification.UserOwnedBy{UserID: userId},
		specification.NotDeleted{},
	)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, session.ErrConversationNotFound
	}

	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: conversationId},
		specification.NotDeleted{},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.MessageResponse, len(messages))
	for i, msg := range messages {
		res[i] = &dto.MessageResponse{
			Id:        msg.Id,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
	}
	return res, nil
}

func (c *chatService) DeleteConversation(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) error {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: conversationId},
		specification.UserOwnedBy{UserID: userId},
		specification.NotDeleted{},
	)
	if err != nil {
		return err
	}
	if conversation == nil {
		return session.ErrConversationNotFound
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	if err := uow.MessageRepository().DeleteByConversationId(ctx, conversationId); err != nil {
		uow.Rollback()
		return err
	}
	if err := uow.ConversationRepository().Delete(ctx, conversationId); err != nil {
		uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	c.registry.Delete(sessionKey(userId, conversationId.String()))
	return nil
}

func (c *chatService) OpenSession(ctx context.Context, userId uuid.UUID, conversationId uuid.UUID) (*session.Controller, error) {
	if conversationId != uuid.Nil {
		if ctrl, ok := c.registry.Get(sessionKey(userId, conversationId.String())); ok {
			return ctrl, nil
		}
	}

	store := &sessionStore{
		uowFactory:     c.uowFactory,
		userId:         userId,
		eventPublisher: c.eventPublisher,
		logger:         c.logger,
	}
	ctrl := session.NewController(store, stream.NewExchange(c.provider), c.titles, c.logger)

	if conversationId != uuid.Nil {
		if err := ctrl.Start(ctx, conversationId.String()); err != nil {
			return nil, err
		}
	}
	if _, err := ctrl.EnsureConversation(ctx); err != nil {
		return nil, err
	}

	c.registry.Save(sessionKey(userId, ctrl.ConversationID()), ctrl)
	return ctrl, nil
}

func (c *chatService) publishEvent(ctx context.Context, evt events.BaseEvent) {
	if c.eventPublisher == nil {
		return
	}
	if err := c.eventPublisher.Publish(ctx, evt); err != nil {
		c.logger.Warn("ChatService", "failed to publish event", map[string]interface{}{
			"type":  evt.EventType(),
			"error": err.Error(),
		})
	}
}

func sessionKey(userId uuid.UUID, conversationId string) string {
	return userId.String() + ":" + conversationId
}

// sessionStore adapts the repository layer to the transcript boundary
// the session controller talks to, with the owner identity baked in.
type sessionStore struct {
	uowFactory     unitofwork.RepositoryFactory
	userId         uuid.UUID
	eventPublisher *pktNats.Publisher
	logger         logger.ILogger
}

func (s *sessionStore) CreateConversation(ctx context.Context, title string) (string, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversation := entity.Conversation{
		Id:        uuid.New(),
		UserId:    s.userId,
		Title:     title,
		CreatedAt: time.Now(),
	}
	if err := uow.ConversationRepository().Create(ctx, &conversation); err != nil {
		return "", err
	}

	if s.eventPublisher != nil {
		evt := events.NewConversationCreated(conversation.Id.String(), s.userId.String())
		if err := s.eventPublisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("ChatService", "failed to publish event", map[string]interface{}{
				"type":  evt.EventType(),
				"error": err.Error(),
			})
		}
	}
	return conversation.Id.String(), nil
}

func (s *sessionStore) ListMessages(ctx context.Context, conversationID string) ([]session.Message, error) {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, session.ErrConversationNotFound
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.UserOwnedBy{UserID: s.userId},
		specification.NotDeleted{},
	)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, session.ErrConversationNotFound
	}

	messages, err := uow.MessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: id},
		specification.NotDeleted{},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	out := make([]session.Message, len(messages))
	for i, msg := range messages {
		out[i] = session.Message{Role: msg.Role, Content: msg.Content}
	}
	return out, nil
}

func (s *sessionStore) InsertMessage(ctx context.Context, conversationID, role, content string) error {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		return session.ErrConversationNotFound
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}

	message := entity.Message{
		Id:             uuid.New(),
		ConversationId: id,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := uow.MessageRepository().Create(ctx, &message); err != nil {
		uow.Rollback()
		return err
	}

	// Touch the conversation so owner listings sort by recent activity.
	conversation, err := uow.ConversationRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		uow.Rollback()
		return err
	}
	if conversation != nil {
		now := time.Now()
		conversation.UpdatedAt = &now
		if err := uow.ConversationRepository().Update(ctx, conversation); err != nil {
			uow.Rollback()
			return err
		}
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	if role == constant.ChatMessageRoleModel && s.eventPublisher != nil {
		evt := events.NewExchangeCompleted(conversationID, len(content))
		if err := s.eventPublisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("ChatService", "failed to publish event", map[string]interface{}{
				"type":  evt.EventType(),
				"error": err.Error(),
			})
		}
	}
	return nil
}
