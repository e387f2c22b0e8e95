// Package mongo keeps the application status trail in MongoDB.
package mongo

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/history"
)

const historyCollection = "status_history"

// Connect opens a client and pings the primary before returning it.
func Connect(ctx context.Context, uri string, timeout time.Duration, logger *slog.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, common.NewError(common.CodeInternal, "failed to connect to mongodb", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, common.NewError(common.CodeInternal, "failed to ping mongodb", err)
	}
	if logger != nil {
		logger.Info("mongodb connected")
	}
	return client, nil
}

type HistoryRepository struct {
	collection *mongo.Collection
}

func NewHistoryRepository(db *mongo.Database) *HistoryRepository {
	return &HistoryRepository{collection: db.Collection(historyCollection)}
}

// EnsureIndexes creates the per-application lookup index.
func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "application_id", Value: 1}, {Key: "at", Value: 1}},
	})
	if err != nil {
		return common.NewError(common.CodeInternal, "failed to create status history index", err)
	}
	return nil
}

func (r *HistoryRepository) Append(ctx context.Context, change history.StatusChange) error {
	if _, err := r.collection.InsertOne(ctx, change); err != nil {
		return common.NewError(common.CodeInternal, "failed to append status history", err)
	}
	return nil
}

func (r *HistoryRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]history.StatusChange, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.M{"application_id": applicationID}, opts)
	if err != nil {
		return nil, common.NewError(common.CodeInternal, "failed to list status history", err)
	}
	defer cur.Close(ctx)

	var items []history.StatusChange
	if err := cur.All(ctx, &items); err != nil {
		return nil, common.NewError(common.CodeInternal, "failed to decode status history", err)
	}
	return items, nil
}
