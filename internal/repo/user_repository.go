package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/db"
	"github.com/bspark23/chatsphere-pro/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the identity collaborator: lookup at authentication
// time plus the two presence fields the relay owns.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	SetStatus(ctx context.Context, id string, status string) error
	SetOffline(ctx context.Context, id string, lastSeen time.Time) error
}

type userRepository struct {
	mongoRepo *db.Repository[model.User]
	logger    *zap.Logger
}

func NewUserRepository(repo *db.Repository[model.User], logger *zap.Logger) UserRepository {
	return &userRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	user, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}

	return user, nil
}

func (r *userRepository) SetStatus(ctx context.Context, id string, status string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, id, bson.M{"status": status})
	if err != nil {
		r.logger.Error("set status failed",
			zap.Error(err),
			zap.String("user_id", id),
			zap.String("status", status),
		)
		return fmt.Errorf("set status for %s: %w", id, err)
	}

	return nil
}

// SetOffline flips the status and stamps last-seen in one update.
// Last write wins; near-simultaneous multi-device disconnects are a
// benign race.
func (r *userRepository) SetOffline(ctx context.Context, id string, lastSeen time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, id, bson.M{
		"status":    "offline",
		"last_seen": lastSeen,
	})
	if err != nil {
		r.logger.Error("set offline failed", zap.Error(err), zap.String("user_id", id))
		return fmt.Errorf("set offline for %s: %w", id, err)
	}

	return nil
}
