package service

import (
	"context"
	"encoding/json"

	"voicechat-be/internal/constant"
	"voicechat-be/internal/dto"
	"voicechat-be/internal/pkg/logger"
	"voicechat-be/internal/repository/specification"
	"voicechat-be/internal/repository/unitofwork"
	"voicechat-be/pkg/chat/title"
	"voicechat-be/pkg/events"
	pktNats "voicechat-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// TitleNotifier pushes a freshly generated title to the owner's
// connected clients.
type TitleNotifier interface {
	NotifyTitleUpdated(userId uuid.UUID, conversationId uuid.UUID, newTitle string)
}

// ITitlePublisherService queues a title generation request. Implements
// the fire-and-forget trigger the session controller fires after the
// first completed exchange.
type ITitlePublisherService interface {
	Trigger(conversationID, userMessage, modelReply string)
}

type titlePublisherService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	logger    logger.ILogger
}

func NewTitlePublisherService(pubSub *gochannel.GoChannel, topicName string, log logger.ILogger) ITitlePublisherService {
	return &titlePublisherService{
		pubSub:    pubSub,
		topicName: topicName,
		logger:    log,
	}
}

func (s *titlePublisherService) Trigger(conversationID, userMessage, modelReply string) {
	id, err := uuid.Parse(conversationID)
	if err != nil {
		s.logger.Warn("TitlePublisher", "invalid conversation id in title trigger", map[string]interface{}{
			"conversation_id": conversationID,
		})
		return
	}

	payload, err := json.Marshal(dto.GenerateTitleMessage{
		ConversationId: id,
		UserMessage:    userMessage,
		ModelReply:     modelReply,
	})
	if err != nil {
		s.logger.Warn("TitlePublisher", "failed to marshal title request", map[string]interface{}{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubSub.Publish(s.topicName, msg); err != nil {
		// Losing a title request only leaves the placeholder in place.
		s.logger.Warn("TitlePublisher", "failed to queue title request", map[string]interface{}{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
	}
}

// ITitleWorkerService drains the title queue, asks the backend for a
// label and writes it back exactly once per conversation.
type ITitleWorkerService interface {
	Consume(ctx context.Context) error
}

type titleWorkerService struct {
	pubSub         *gochannel.GoChannel
	topicName      string
	uowFactory     unitofwork.RepositoryFactory
	summarizer     *title.Summarizer
	eventPublisher *pktNats.Publisher
	notifier       TitleNotifier
	logger         logger.ILogger
}

func NewTitleWorkerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	summarizer *title.Summarizer,
	eventPublisher *pktNats.Publisher,
	notifier TitleNotifier,
	log logger.ILogger,
) ITitleWorkerService {
	return &titleWorkerService{
		pubSub:         pubSub,
		topicName:      topicName,
		uowFactory:     uowFactory,
		summarizer:     summarizer,
		eventPublisher: eventPublisher,
		notifier:       notifier,
		logger:         log,
	}
}

func (s *titleWorkerService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, s.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()

	return nil
}

// processMessage always acks: a failed summarization keeps the
// placeholder title and is never retried from here.
func (s *titleWorkerService) processMessage(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var payload dto.GenerateTitleMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.logger.Warn("TitleWorker", "failed to unmarshal title request", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	conversation, err := uow.ConversationRepository().FindOne(ctx,
		specification.ByID{ID: payload.ConversationId},
		specification.NotDeleted{},
	)
	if err != nil {
		s.logger.Warn("TitleWorker", "failed to load conversation", map[string]interface{}{
			"conversation_id": payload.ConversationId,
			"error":           err.Error(),
		})
		return
	}
	if conversation == nil {
		return
	}

	// The title is rewritten once; anything other than the placeholder
	// means another worker already did it.
	if conversation.Title != constant.DefaultConversationTitle {
		return
	}

	newTitle, err := s.summarizer.Summarize(ctx, payload.UserMessage, payload.ModelReply)
	if err != nil {
		s.logger.Warn("TitleWorker", "summarization failed, keeping placeholder", map[string]interface{}{
			"conversation_id": payload.ConversationId,
			"error":           err.Error(),
		})
		return
	}

	conversation.Title = newTitle
	if err := uow.ConversationRepository().Update(ctx, conversation); err != nil {
		s.logger.Warn("TitleWorker", "failed to persist title", map[string]interface{}{
			"conversation_id": payload.ConversationId,
			"error":           err.Error(),
		})
		return
	}

	s.logger.Info("TitleWorker", "conversation titled", map[string]interface{}{
		"conversation_id": payload.ConversationId,
		"title":           newTitle,
	})

	if s.eventPublisher != nil {
		evt := events.NewConversationTitleUpdated(payload.ConversationId.String(), newTitle)
		if err := s.eventPublisher.Publish(ctx, evt); err != nil {
			s.logger.Warn("TitleWorker", "failed to publish title event", map[string]interface{}{
				"conversation_id": payload.ConversationId,
				"error":           err.Error(),
			})
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyTitleUpdated(conversation.UserId, conversation.Id, newTitle)
	}
}
