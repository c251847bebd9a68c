package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nkmrt3/frnchat/internal/models"
	"github.com/nkmrt3/frnchat/internal/utils"
)

// Mongo stores each conversation as one document with an embedded message array.
type Mongo struct {
	Client        *mongo.Client
	Database      *mongo.Database
	Conversations *mongo.Collection

	now Clock
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	database := client.Database(cfg.Database)
	return &Mongo{
		Client:        client,
		Database:      database,
		Conversations: database.Collection("conversations"),
		now:           time.Now,
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func (m *Mongo) EnsureCollections(ctx context.Context) error {
	if m == nil || m.Database == nil {
		return fmt.Errorf("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.Conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure conversation index: %w", err)
	}

	return nil
}

func (m *Mongo) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "created_at", Value: -1}})

	cursor, err := m.Conversations.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find conversations: %w", err)
	}

	result := make([]models.Conversation, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("mongo: decode conversations: %w", err)
	}

	for i := range result {
		result[i].Normalize()
	}
	return result, nil
}

func (m *Mongo) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	conv := models.NewConversation(uuid.NewString(), title, models.Timestamp(m.now()))

	if _, err := m.Conversations.InsertOne(ctx, conv); err != nil {
		return nil, fmt.Errorf("mongo: insert conversation: %w", err)
	}

	return &conv, nil
}

func (m *Mongo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := m.Conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo: find conversation: %w", err)
	}

	conv.Normalize()
	return &conv, nil
}

func (m *Mongo) AppendMessages(ctx context.Context, id string, messages []models.Message) (*models.Conversation, error) {
	if messages == nil {
		messages = []models.Message{}
	}

	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": messages}},
		"$max":  bson.M{"updated_at": models.Timestamp(m.now())},
	}
	return m.findAndUpdate(ctx, id, update)
}

func (m *Mongo) UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	update := bson.M{
		"$set": bson.M{"title": title},
		"$max": bson.M{"updated_at": models.Timestamp(m.now())},
	}
	return m.findAndUpdate(ctx, id, update)
}

func (m *Mongo) DeleteConversation(ctx context.Context, id string) error {
	result, err := m.Conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) findAndUpdate(ctx context.Context, id string, update bson.M) (*models.Conversation, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conv models.Conversation
	if err := m.Conversations.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo: update conversation: %w", err)
	}

	conv.Normalize()
	return &conv, nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
