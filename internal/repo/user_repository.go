package repo

import (
	"Saathi/internal/db"
	"Saathi/internal/model"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const searchLimit = 10

// UserRepository reads the user directory owned by the auth service.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.User, error)
	Search(ctx context.Context, query, excludeID string) ([]model.User, error)
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

// FindByID loads one user. Unknown users and ids that are not ObjectIDs
// return nil, nil.
func (r *userRepository) FindByID(ctx context.Context, userID string) (*model.User, error) {
	filter := db.NewFilter().ObjectID("_id", userID).Build()
	if len(filter) == 0 {
		return nil, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	users, err := r.mongoRepo.FindAll(ctx, filter, options.Find().SetLimit(1))
	if err != nil {
		r.logger.Error("failed to load user", zap.Error(err), zap.String("user_id", userID))
		return nil, fmt.Errorf("find user failed: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// FindByIDs loads the users whose ids are valid ObjectIDs; others are skipped.
func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	oids := db.ObjectIDs(ids)
	if len(oids) == 0 {
		return []model.User{}, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	users, err := r.mongoRepo.FindAll(ctx, db.NewFilter().In("_id", oids).Build())
	if err != nil {
		r.logger.Error("failed to load users", zap.Error(err), zap.Int("ids", len(oids)))
		return nil, fmt.Errorf("find users failed: %w", err)
	}
	return users, nil
}

// Search matches name or phone number, case-insensitively, excluding the
// caller.
func (r *userRepository) Search(ctx context.Context, query, excludeID string) ([]model.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := searchFilter(query, excludeID)
	users, err := r.mongoRepo.FindAll(ctx, filter, options.Find().SetLimit(searchLimit))
	if err != nil {
		r.logger.Error("user search failed", zap.Error(err), zap.String("query", query))
		return nil, fmt.Errorf("search users failed: %w", err)
	}
	return users, nil
}

func searchFilter(query, excludeID string) bson.M {
	f := db.NewFilter().Or(
		db.NewFilter().Contains("name", query).Build(),
		db.NewFilter().Contains("phoneNumber", query).Build(),
	)

	// ids that are not ObjectIDs can never match _id anyway
	if oids := db.ObjectIDs([]string{excludeID}); len(oids) == 1 {
		f.Ne("_id", oids[0])
	}
	return f.Build()
}
