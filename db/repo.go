package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	mathrand "math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
	"github.com/n0rdy/tableq/query"
	"github.com/rs/zerolog/log"
)

const (
	defaultRetryMinDelay = 25 * time.Millisecond
	defaultRetryMaxDelay = 100 * time.Millisecond
)

// MessageRepo drives the message lifecycle on top of one table.
// It keeps no lock of its own: every state change is a single statement.
type MessageRepo struct {
	executor Executor
	schema   *configs.SchemaConfig
	builder  *query.Builder
	hydrator *Hydrator

	nowFn         func() time.Time
	retryMinDelay time.Duration
	retryMaxDelay time.Duration
}

type RepoOption func(mr *MessageRepo)

func WithNowFunc(nowFn func() time.Time) RepoOption {
	return func(mr *MessageRepo) {
		if nowFn != nil {
			mr.nowFn = nowFn
		}
	}
}

// WithRetryDelay sets the bounds of the random pause before the retry of a transient failure.
func WithRetryDelay(minDelay, maxDelay time.Duration) RepoOption {
	return func(mr *MessageRepo) {
		if minDelay < 0 || maxDelay < minDelay {
			return
		}
		mr.retryMinDelay = minDelay
		mr.retryMaxDelay = maxDelay
	}
}

func WithHydrator(hydrator *Hydrator) RepoOption {
	return func(mr *MessageRepo) {
		if hydrator != nil {
			mr.hydrator = hydrator
		}
	}
}

func NewMessageRepo(executor Executor, schema *configs.SchemaConfig, opts ...RepoOption) *MessageRepo {
	mr := &MessageRepo{
		executor:      executor,
		schema:        schema,
		builder:       query.NewBuilder(schema),
		hydrator:      NewHydrator(schema),
		nowFn:         time.Now,
		retryMinDelay: defaultRetryMinDelay,
		retryMaxDelay: defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(mr)
	}
	return mr
}

func (mr *MessageRepo) Schema() *configs.SchemaConfig {
	return mr.schema
}

// GetMessages claims up to filter.Limit() messages and returns them in claim order.
// The claimed messages are ACK_PENDING until they are acked, nacked or recovered by maintenance.
func (mr *MessageRepo) GetMessages(ctx context.Context, filter *common.Filter) ([]*common.Message, error) {
	now := mr.now()

	// every attempt claims under its own token: a retried claim must not pick up the rows
	// of an attempt that committed but whose result was lost
	var token string
	claimed, err := mr.exec(ctx, "claim", func() (query.Statement, error) {
		var err error
		if token, err = newPendingToken(); err != nil {
			return query.Statement{}, err
		}
		return mr.builder.Claim(filter, token, now)
	})
	if err != nil {
		log.Error().Err(err).Str("topic", filter.Topic()).Msg("failed to claim messages")
		return nil, err
	}
	if claimed == 0 {
		return []*common.Message{}, nil
	}
	log.Debug().Str("topic", filter.Topic()).Str("token", token).Int64("claimed", claimed).Msg("messages claimed")

	rows, err := mr.query(ctx, "fetch", func() (query.Statement, error) {
		return mr.builder.Fetch(token), nil
	})
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("failed to fetch claimed messages")
		return nil, err
	}
	return mr.hydrateAll(rows)
}

// GetMessage claims at most one message. It returns nil, nil when nothing is claimable.
func (mr *MessageRepo) GetMessage(ctx context.Context, filter *common.Filter) (*common.Message, error) {
	single := filter.Clone()
	if err := single.SetLimit(1); err != nil {
		return nil, err
	}

	messages, err := mr.GetMessages(ctx, single)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return messages[0], nil
}

func (mr *MessageRepo) CountMessages(ctx context.Context, filter *common.Filter) (int64, error) {
	rows, err := mr.query(ctx, "count", func() (query.Statement, error) {
		return mr.builder.Count(filter)
	})
	if err != nil {
		log.Error().Err(err).Str("topic", filter.Topic()).Msg("failed to count messages")
		return 0, err
	}
	return firstInt(rows)
}

// ListMessages reads the messages matching the filter without claiming them.
func (mr *MessageRepo) ListMessages(ctx context.Context, filter *common.Filter) ([]*common.Message, error) {
	rows, err := mr.query(ctx, "list", func() (query.Statement, error) {
		return mr.builder.List(filter)
	})
	if err != nil {
		log.Error().Err(err).Str("topic", filter.Topic()).Msg("failed to list messages")
		return nil, err
	}
	return mr.hydrateAll(rows)
}

// CountByStatus counts every row of the table per status, pending ones included.
func (mr *MessageRepo) CountByStatus(ctx context.Context) (map[int]int64, error) {
	rows, err := mr.query(ctx, "count by status", func() (query.Statement, error) {
		return mr.builder.CountByStatus(), nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to count messages by status")
		return nil, err
	}

	out := make(map[int]int64, len(rows))
	for _, row := range rows {
		status, err := toInt64(row[query.StatusAlias])
		if err != nil {
			return nil, err
		}
		total, err := toInt64(row[query.TotalAlias])
		if err != nil {
			return nil, err
		}
		out[int(status)] = total
	}
	return out, nil
}

func (mr *MessageRepo) Ack(ctx context.Context, messageId string) error {
	return mr.transition(ctx, messageId, common.AckReceivedStatus)
}

// Nack puts the message back in the queue when requeue is set, otherwise it becomes NACK_RECEIVED.
func (mr *MessageRepo) Nack(ctx context.Context, messageId string, requeue bool) error {
	if requeue {
		return mr.transition(ctx, messageId, common.InQueueStatus)
	}
	return mr.transition(ctx, messageId, common.NackReceivedStatus)
}

// PublishMessage inserts a message without id under a fresh time-ordered id, or updates the row of its id.
// allowStatusUpdate lets the update overwrite the status and release the pending token too.
func (mr *MessageRepo) PublishMessage(ctx context.Context, msg *common.Message, allowStatusUpdate bool) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	isNew := msg.ID == ""
	if isNew {
		id, err := uuid.NewV7()
		if err != nil {
			return common.NewStorageError(err, "failed to generate message id")
		}
		msg.ID = id.String()
		// a new row always enters the queue unclaimed
		msg.Status = common.InQueueStatus
		msg.PendingToken = nil
		if msg.DateCreate == "" {
			msg.DateCreate = mr.now()
		}
	}

	affected, err := mr.exec(ctx, "publish", func() (query.Statement, error) {
		return mr.builder.Publish(msg, isNew, allowStatusUpdate)
	})
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Str("message_id", msg.ID).Bool("new", isNew).Msg("failed to publish message")
		if isNew {
			msg.ID = ""
		}
		return err
	}
	if !isNew && affected == 0 {
		return common.ErrNotFoundMessage
	}
	return nil
}

// PublishOrUpdateEntityMessage merges msg into the queued message of the same entity and topic, if any,
// and publishes it. The existing row is claimed while it is being rewritten.
// Concurrent publishers of one entity can still both insert: this is not a uniqueness constraint.
func (mr *MessageRepo) PublishOrUpdateEntityMessage(ctx context.Context, msg *common.Message, merge common.MergeStrategy) error {
	if !msg.HasEntity() {
		return common.NewLogicError("cannot publish or update an entity message without entity id")
	}

	filter, err := common.NewFilter(
		common.WithTopic(msg.Topic),
		common.WithEntityID(*msg.EntityID),
		common.WithCurrent(mr.nowFn()),
	)
	if err != nil {
		return err
	}

	existing, err := mr.GetMessage(ctx, filter)
	if err != nil {
		return err
	}

	if existing != nil {
		mr.mergeMessages(existing, msg)
		if merge != nil {
			if err := merge.Merge(existing, msg); err != nil {
				mr.release(ctx, existing.ID)
				return err
			}
		}
	}

	if err := mr.PublishMessage(ctx, msg, true); err != nil {
		if existing != nil {
			mr.release(ctx, existing.ID)
		}
		return err
	}
	return nil
}

// PublishOrSkipEntityMessage publishes msg unless a message of the same entity and topic exists,
// whatever its status. It reports whether msg was published.
func (mr *MessageRepo) PublishOrSkipEntityMessage(ctx context.Context, msg *common.Message) (bool, error) {
	if !msg.HasEntity() {
		return false, common.NewLogicError("cannot publish or skip an entity message without entity id")
	}

	rows, err := mr.query(ctx, "count entity", func() (query.Statement, error) {
		return mr.builder.CountEntity(*msg.EntityID, msg.Topic)
	})
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Str("entity_id", *msg.EntityID).Msg("failed to count entity messages")
		return false, err
	}
	existing, err := firstInt(rows)
	if err != nil {
		return false, err
	}
	if existing > 0 {
		log.Debug().Str("topic", msg.Topic).Str("entity_id", *msg.EntityID).Msg("entity message already exists, skipping")
		return false, nil
	}

	if err := mr.PublishMessage(ctx, msg, false); err != nil {
		return false, err
	}
	return true, nil
}

// CleanMessages deletes the messages in the statuses selected by bitmask that were last updated
// at least interval ago.
func (mr *MessageRepo) CleanMessages(ctx context.Context, interval time.Duration, bitmask int) (int64, error) {
	cutoff := mr.cutoff(interval)

	deleted, err := mr.exec(ctx, "clean", func() (query.Statement, error) {
		return mr.builder.Clean(bitmask, cutoff)
	})
	if err != nil {
		log.Error().Err(err).Int("bitmask", bitmask).Msg("failed to clean messages")
		return 0, err
	}
	return deleted, nil
}

// CleanPendingMessages gives up on the messages pending for at least interval: they become ACK_NOT_RECEIVED.
// Pick it over ResetPendingMessages when a message must never be consumed twice.
func (mr *MessageRepo) CleanPendingMessages(ctx context.Context, interval time.Duration) (int64, error) {
	cutoff := mr.cutoff(interval)
	now := mr.now()

	updated, err := mr.exec(ctx, "clean pending", func() (query.Statement, error) {
		return mr.builder.CleanPending(cutoff, now), nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to clean pending messages")
		return 0, err
	}
	return updated, nil
}

// ResetPendingMessages puts the messages pending for at least interval back in the queue.
// Pick it over CleanPendingMessages when a message must be consumed, even more than once.
func (mr *MessageRepo) ResetPendingMessages(ctx context.Context, interval time.Duration) (int64, error) {
	cutoff := mr.cutoff(interval)
	now := mr.now()

	updated, err := mr.exec(ctx, "reset pending", func() (query.Statement, error) {
		return mr.builder.ResetPending(cutoff, now), nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to reset pending messages")
		return 0, err
	}
	return updated, nil
}

func (mr *MessageRepo) Ping(ctx context.Context) error {
	return mr.executor.Ping(ctx)
}

// Optimize refreshes the planner statistics of the table.
func (mr *MessageRepo) Optimize(ctx context.Context) error {
	text := "PRAGMA optimize"
	switch mr.schema.Dialect() {
	case configs.PostgresDialect:
		text = `ANALYZE "` + mr.schema.Table() + `"`
	case configs.MySQLDialect:
		text = "ANALYZE TABLE `" + mr.schema.Table() + "`"
	}

	_, err := mr.exec(ctx, "optimize", func() (query.Statement, error) {
		return query.Statement{Text: text}, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to optimize database")
		return err
	}
	return nil
}

func (mr *MessageRepo) Close() error {
	return mr.executor.Close()
}

func (mr *MessageRepo) transition(ctx context.Context, messageId string, status int) error {
	now := mr.now()

	affected, err := mr.exec(ctx, "transition", func() (query.Statement, error) {
		return mr.builder.Transition(messageId, status, now)
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", messageId).Str("status", common.StatusName(status)).Msg("failed to update message status")
		return err
	}
	if affected == 0 {
		return common.ErrNotFoundMessage
	}
	return nil
}

// release hands a claimed message back to the queue after a failed merge.
func (mr *MessageRepo) release(ctx context.Context, messageId string) {
	if err := mr.transition(ctx, messageId, common.InQueueStatus); err != nil {
		log.Warn().Err(err).Str("message_id", messageId).Msg("failed to release claimed message, it stays pending until maintenance")
	}
}

// mergeMessages makes incoming overwrite existing: same row, same position in the queue,
// the most urgent of both priorities, back to IN_QUEUE.
func (mr *MessageRepo) mergeMessages(existing *common.Message, incoming *common.Message) {
	incoming.ID = existing.ID
	incoming.DateCreate = existing.DateCreate
	incoming.DateAvailability = existing.DateAvailability
	incoming.Priority = min(existing.Priority, incoming.Priority)
	incoming.DateUpdate = common.StringPtr(mr.now())
	incoming.Status = common.InQueueStatus
}

func (mr *MessageRepo) hydrateAll(rows []Row) ([]*common.Message, error) {
	messages := make([]*common.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := mr.hydrator.Hydrate(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (mr *MessageRepo) exec(ctx context.Context, op string, build func() (query.Statement, error)) (int64, error) {
	return withRetry(ctx, mr, op, build, func(stmt query.Statement) (int64, error) {
		return mr.executor.Exec(ctx, stmt.Text, stmt.Args...)
	})
}

func (mr *MessageRepo) query(ctx context.Context, op string, build func() (query.Statement, error)) ([]Row, error) {
	return withRetry(ctx, mr, op, build, func(stmt query.Statement) ([]Row, error) {
		return mr.executor.Query(ctx, stmt.Text, stmt.Args...)
	})
}

// withRetry runs a statement and, on a transient failure, reconnects and runs it once more after
// a random pause. The second failure is returned as is. Build errors are never retried.
func withRetry[T any](ctx context.Context, mr *MessageRepo, op string, build func() (query.Statement, error), run func(query.Statement) (T, error)) (T, error) {
	var zero T

	stmt, err := build()
	if err != nil {
		return zero, err
	}
	out, err := run(stmt)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, common.ErrTransientStorage) {
		return zero, asStorageError(err, op)
	}

	delay := mr.retryDelay()
	log.Warn().Err(err).Str("op", op).Dur("delay", delay).Msg("transient storage failure, retrying once")

	select {
	case <-ctx.Done():
		return zero, common.NewStorageError(ctx.Err(), "%s: interrupted before retry", op)
	case <-time.After(delay):
	}

	if err := mr.executor.Reconnect(ctx); err != nil {
		log.Debug().Err(err).Str("op", op).Msg("reconnect failed")
		return zero, err
	}

	stmt, err = build()
	if err != nil {
		return zero, err
	}
	return run(stmt)
}

func (mr *MessageRepo) retryDelay() time.Duration {
	spread := mr.retryMaxDelay - mr.retryMinDelay
	if spread <= 0 {
		return mr.retryMinDelay
	}
	return mr.retryMinDelay + mathrand.N(spread)
}

func (mr *MessageRepo) now() string {
	return common.FormatTime(mr.nowFn())
}

func (mr *MessageRepo) cutoff(interval time.Duration) string {
	return common.FormatTime(mr.nowFn().Add(-interval))
}

// asStorageError keeps typed errors as they are and wraps foreign ones.
func asStorageError(err error, op string) error {
	var qe *common.QueueError
	if errors.As(err, &qe) {
		return err
	}
	return common.NewStorageError(err, "%s failed", op)
}

func newPendingToken() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", common.NewStorageError(err, "failed to generate pending token")
	}
	return hex.EncodeToString(b[:]), nil
}

func firstInt(rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		return toInt64(v)
	}
	return 0, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		out, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, common.NewStorageError(err, "unexpected count value %q", n)
		}
		return out, nil
	case nil:
		return 0, nil
	default:
		return 0, common.NewStorageError(nil, "unexpected count value of type %T", v)
	}
}
