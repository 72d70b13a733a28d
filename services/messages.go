package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
	"github.com/n0rdy/tableq/db"
	"github.com/n0rdy/tableq/metrics"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	processAfterBuffer = 10 * time.Second // buffer for processAfter in case of clock skew or network delays
	tracerName         = "github.com/n0rdy/tableq/services"
)

type MessagesService struct {
	repo           *db.MessageRepo
	metricsService metrics.Service
	appConfigs     *configs.AppConfigs
	tracer         trace.Tracer
}

func NewMessagesService(repo *db.MessageRepo, metricsService metrics.Service, appConfigs *configs.AppConfigs) *MessagesService {
	return &MessagesService{
		repo:           repo,
		metricsService: metricsService,
		appConfigs:     appConfigs,
		tracer:         otel.Tracer(tracerName),
	}
}

func (ms *MessagesService) ProcessNewMessage(ctx context.Context, newMessage common.NewMessageRequest, topic string) (resp *common.NewMessageResponse, err error) {
	ctx, span := ms.tracer.Start(ctx, "messages.publish", trace.WithAttributes(
		attribute.String("tableq.topic", topic),
		attribute.String("tableq.entity_mode", newMessage.EntityMode),
	))
	defer func() { endSpan(span, err) }()

	msg, err := ms.toMessage(newMessage, topic)
	if err != nil {
		return nil, err
	}

	switch newMessage.EntityMode {
	case common.UpdateEntityMode:
		var merge common.MergeStrategy
		if newMessage.OrMergeField != "" {
			merge = common.BitwiseOrJSONField(newMessage.OrMergeField)
		}
		if err := ms.repo.PublishOrUpdateEntityMessage(ctx, msg, merge); err != nil {
			return nil, err
		}
		ms.metricsService.IncMessagesPublishedTotalBy(1, topic, metrics.UpdatedPublishMode)
		return &common.NewMessageResponse{Id: msg.ID, Published: true}, nil

	case common.SkipEntityMode:
		published, err := ms.repo.PublishOrSkipEntityMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		if !published {
			ms.metricsService.IncMessagesPublishedTotalBy(1, topic, metrics.SkippedPublishMode)
			return &common.NewMessageResponse{Published: false}, nil
		}
		ms.metricsService.IncMessagesPublishedTotalBy(1, topic, metrics.NewPublishMode)
		return &common.NewMessageResponse{Id: msg.ID, Published: true}, nil

	default:
		if err := ms.repo.PublishMessage(ctx, msg, false); err != nil {
			return nil, err
		}
		ms.metricsService.IncMessagesPublishedTotalBy(1, topic, metrics.NewPublishMode)
		return &common.NewMessageResponse{Id: msg.ID, Published: true}, nil
	}
}

func (ms *MessagesService) toMessage(newMessage common.NewMessageRequest, topic string) (*common.Message, error) {
	if !common.IsValidTopicName(topic) {
		log.Error().Str("topic", topic).Msg("invalid topic name")
		return nil, common.ErrBadRequestInvalidTopic
	}
	if len(newMessage.Content) > ms.appConfigs.MessageContentMaxSizeBytes {
		log.Error().Int("size", len(newMessage.Content)).Msg("message content exceeds limit")
		return nil, common.ErrBadRequestContentExceedsLimit
	}

	msg := common.NewMessage(topic, newMessage.Content)

	switch newMessage.ContentType {
	case "", common.TextContentType:
	case common.JsonContentType:
		if !json.Valid([]byte(newMessage.Content)) {
			log.Error().Str("topic", topic).Msg("message content is not valid json")
			return nil, common.ErrBadRequestContentNotJson
		}
		msg.ContentType = common.JsonContentType
	default:
		log.Error().Str("content_type", newMessage.ContentType).Msg("unsupported content type")
		return nil, common.ErrBadRequestInvalidBody
	}

	if newMessage.Priority != 0 {
		if err := msg.SetPriority(newMessage.Priority); err != nil {
			log.Error().Int("priority", newMessage.Priority).Msg("priority out of range")
			return nil, common.ErrBadRequestInvalidBody
		}
	}

	switch newMessage.EntityMode {
	case "":
		if newMessage.EntityId != "" {
			msg.SetEntityID(newMessage.EntityId)
		}
	case common.UpdateEntityMode, common.SkipEntityMode:
		if newMessage.EntityId == "" {
			log.Error().Str("entity_mode", newMessage.EntityMode).Msg("entity mode requires an entity id")
			return nil, common.ErrBadRequestInvalidBody
		}
		msg.SetEntityID(newMessage.EntityId)
	default:
		log.Error().Str("entity_mode", newMessage.EntityMode).Msg("unsupported entity mode")
		return nil, common.ErrBadRequestInvalidBody
	}
	if newMessage.OrMergeField != "" && (newMessage.EntityMode != common.UpdateEntityMode || !msg.IsJSON()) {
		log.Error().Str("or_merge_field", newMessage.OrMergeField).Msg("or merge field requires the update entity mode and json content")
		return nil, common.ErrBadRequestInvalidBody
	}

	now := time.Now()
	if newMessage.ProcessAfter != 0 {
		processAfter := time.UnixMilli(newMessage.ProcessAfter)
		if processAfter.Add(processAfterBuffer).Before(now) {
			log.Error().Int64("process_after", newMessage.ProcessAfter).Msg("process_after is in the past")
			return nil, common.ErrBadRequestProcessAfterInPast
		}
		if processAfter.After(now.Add(ms.appConfigs.MaxProcessAfterDelay)) {
			log.Error().Int64("process_after", newMessage.ProcessAfter).Msg("process_after is too far in the future")
			return nil, common.ErrBadRequestProcessAfterTooFar
		}
		msg.SetAvailability(processAfter)
	}
	if newMessage.ExpiresAfter != 0 {
		expiresAfter := time.UnixMilli(newMessage.ExpiresAfter)
		if !expiresAfter.After(now) {
			log.Error().Int64("expires_after", newMessage.ExpiresAfter).Msg("expires_after is in the past")
			return nil, common.ErrBadRequestExpiresAfterInPast
		}
		msg.SetExpiration(expiresAfter)
	}
	return msg, nil
}

// FetchMessages claims messages for a consumer. With Wait set, it long-polls until at least one
// message is claimed or the polling duration is over, in which case it returns an empty list.
func (ms *MessagesService) FetchMessages(ctx context.Context, fetchReq common.FetchRequest) (out []common.MessageResponse, err error) {
	ctx, span := ms.tracer.Start(ctx, "messages.fetch", trace.WithAttributes(
		attribute.String("tableq.topic", fetchReq.Topic),
		attribute.Int("tableq.limit", fetchReq.Limit),
		attribute.Bool("tableq.wait", fetchReq.Wait),
	))
	defer func() { endSpan(span, err) }()

	// validates the request once before polling
	if _, err := ms.fetchFilter(fetchReq); err != nil {
		return nil, err
	}

	start := time.Now()
	ticker := time.NewTicker(ms.appConfigs.PollingInterval)
	defer ticker.Stop()

	for {
		// a fresh filter per attempt, so that availability and expiration follow the clock
		filter, err := ms.fetchFilter(fetchReq)
		if err != nil {
			return nil, err
		}

		messages, err := ms.repo.GetMessages(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			ms.metricsService.IncMessagesClaimedTotalBy(int64(len(messages)), fetchReq.Topic)
			span.SetAttributes(attribute.Int("tableq.claimed", len(messages)))

			out = make([]common.MessageResponse, 0, len(messages))
			for _, msg := range messages {
				out = append(out, common.ToMessageResponse(msg))
			}
			return out, nil
		}

		if !fetchReq.Wait || time.Since(start) > ms.appConfigs.PollingDuration {
			return []common.MessageResponse{}, nil
		}

		select {
		case <-ticker.C:
			// continue polling
		case <-ctx.Done():
			// client disconnected, stop polling and return
			log.Warn().Err(ctx.Err()).Str("topic", fetchReq.Topic).Msg("context cancelled while fetching messages")
			return nil, ctx.Err()
		}
	}
}

func (ms *MessagesService) fetchFilter(fetchReq common.FetchRequest) (*common.Filter, error) {
	opts := []common.FilterOption{common.WithTopic(fetchReq.Topic)}
	if fetchReq.Limit != 0 {
		opts = append(opts, common.WithLimit(fetchReq.Limit))
	}
	if len(fetchReq.Priorities) > 0 {
		opts = append(opts, common.WithPriorities(fetchReq.Priorities...))
	}
	if fetchReq.EntityId != nil {
		opts = append(opts, common.WithEntityID(*fetchReq.EntityId))
	}

	filter, err := common.NewFilterWithMaxLimit(ms.appConfigs.MaxFetchLimit, opts...)
	if err != nil {
		log.Error().Err(err).Str("topic", fetchReq.Topic).Msg("invalid fetch request")
		return nil, common.ErrBadRequestInvalidQuery
	}
	return filter, nil
}

// CountMessages counts the unclaimed messages of a topic pattern in the given statuses.
func (ms *MessagesService) CountMessages(ctx context.Context, topic string, statuses []int) (count int64, err error) {
	ctx, span := ms.tracer.Start(ctx, "messages.count", trace.WithAttributes(attribute.String("tableq.topic", topic)))
	defer func() { endSpan(span, err) }()

	var opts []common.FilterOption
	if topic != "" {
		opts = append(opts, common.WithTopic(topic))
	}
	if len(statuses) > 0 {
		opts = append(opts, common.WithStatuses(statuses...))
	}
	filter, err := common.NewFilter(opts...)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("invalid count request")
		return 0, common.ErrBadRequestInvalidQuery
	}
	return ms.repo.CountMessages(ctx, filter)
}

func (ms *MessagesService) AckMessage(ctx context.Context, messageId string) (err error) {
	ctx, span := ms.tracer.Start(ctx, "messages.ack", trace.WithAttributes(attribute.String("tableq.message_id", messageId)))
	defer func() { endSpan(span, err) }()

	if err := ms.repo.Ack(ctx, messageId); err != nil {
		return err
	}
	ms.metricsService.IncMessagesAckedTotalBy(1)
	return nil
}

func (ms *MessagesService) NackMessage(ctx context.Context, messageId string, requeue bool) (err error) {
	ctx, span := ms.tracer.Start(ctx, "messages.nack", trace.WithAttributes(
		attribute.String("tableq.message_id", messageId),
		attribute.Bool("tableq.requeue", requeue),
	))
	defer func() { endSpan(span, err) }()

	if err := ms.repo.Nack(ctx, messageId, requeue); err != nil {
		return err
	}
	ms.metricsService.IncMessagesNackedTotalBy(1, requeue)
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
