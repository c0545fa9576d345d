package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/db"
	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/model"
)

var (
	ErrInvalidMessage   = errors.New("invalid message: message cannot be nil")
	ErrEmptyContent     = errors.New("invalid message: content cannot be empty")
	ErrNoMessageIDs     = errors.New("mark-read requires at least one message id")
	ErrOperationTimeout = errors.New("operation timeout exceeded")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	historyPageSize = 50
)

// MessageRepository is the message persistence collaborator as the relay
// sees it: create on send, read-state update on mark-read, paginated
// history for the REST surface.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (string, error)
	MarkRead(ctx context.Context, messageIDs []string, userID string) error
	RoomMessages(ctx context.Context, room event.RoomID, viewerID string, page int64) (*db.PaginatedResult[model.Message], error)
}

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	if err := m.validateMessage(msg); err != nil {
		return "", err
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []model.ReadReceipt{}
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			insertedID := ""
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				insertedID = oid.Hex()
				msg.ID = oid
			}

			m.logger.Info("message inserted",
				zap.String("inserted_id", insertedID),
				zap.String("sender_id", msg.SenderID),
				zap.String("chat_type", msg.ChatType),
				zap.Int("attempt", attempt+1),
			)
			return insertedID, nil
		}

		lastErr = err

		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("sender_id", msg.SenderID),
	)

	return "", fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// MarkRead
// -----------------------------------------------------------------------------

// MarkRead adds the reader to readBy on every listed message. $addToSet
// keeps repeated mark-read calls idempotent per reader.
func (m *messageRepository) MarkRead(ctx context.Context, messageIDs []string, userID string) error {
	if len(messageIDs) == 0 {
		return ErrNoMessageIDs
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectIDs("_id", messageIDs).Build()
	update := bson.M{
		"$addToSet": bson.M{
			"read_by": model.ReadReceipt{UserID: userID, ReadAt: time.Now().UTC()},
		},
	}

	result, err := m.mongoRepo.UpdateManyRaw(ctx, filter, update)
	if err != nil {
		m.logger.Error("mark read failed",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.Int("message_count", len(messageIDs)),
		)
		return fmt.Errorf("mark read failed: %w", err)
	}

	m.logger.Debug("messages marked read",
		zap.String("user_id", userID),
		zap.Int64("matched", result.MatchedCount),
	)
	return nil
}

// -----------------------------------------------------------------------------
// RoomMessages
// -----------------------------------------------------------------------------

func (m *messageRepository) RoomMessages(ctx context.Context, room event.RoomID, viewerID string, page int64) (*db.PaginatedResult[model.Message], error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter, err := m.historyFilter(room, viewerID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			m.logger.Warn("retrying room messages query",
				zap.String("room", room.Key()),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := m.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: historyPageSize,
			SortBy:   "created_at",
			SortDesc: false,
		})

		if err == nil {
			m.logger.Debug("room messages fetched",
				zap.String("room", room.Key()),
				zap.Int("count", len(result.Data)),
				zap.Int64("total", result.Total),
			)
			return result, nil
		}

		lastErr = err

		if !m.isRetryableError(err) {
			break
		}
	}

	return nil, m.handleReadError(lastErr, room.Key())
}

// historyFilter mirrors the delivery rules: a direct room covers both
// directions of the pair, a group room is a plain match.
func (m *messageRepository) historyFilter(room event.RoomID, viewerID string) (bson.M, error) {
	switch room.Kind() {
	case event.RoomDirect:
		return db.NewFilter().
			Eq("chat_type", event.ChatTypeDirect).
			Eq("deleted", false).
			Or(
				bson.M{"sender_id": viewerID, "recipient": room.Target()},
				bson.M{"sender_id": room.Target(), "recipient": viewerID},
			).Build(), nil
	case event.RoomGroup:
		return db.NewFilter().
			Eq("chat_type", event.ChatTypeGroup).
			Eq("group", room.Target()).
			Eq("deleted", false).Build(), nil
	default:
		return nil, fmt.Errorf("no message history for room %q", room.Key())
	}
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) validateMessage(msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}

	return false
}

func (m *messageRepository) handleReadError(err error, roomKey string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("room", roomKey))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("room", roomKey))
		return err
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil // Not an error, just empty result
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("room", roomKey))
	return fmt.Errorf("room messages failed: %w", err)
}
