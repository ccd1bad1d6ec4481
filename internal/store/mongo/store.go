// Package mongo implements the store collaborators on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zhouzirui/tavern-chat/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-chat/backend/internal/store"
)

// Collection names
const (
	CollectionUsers    = "users"
	CollectionChats    = "chats"
	CollectionMessages = "messages"
)

var log = logrus.WithField("component", "mongo")

// Store wraps the MongoDB client and database.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect dials MongoDB with pooled connections and verifies reachability.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{client: client, database: client.Database(dbName)}
	if err := s.ensureIndexes(connectCtx); err != nil {
		log.WithError(err).Warn("failed to create indexes")
	}

	log.WithField("database", dbName).Info("connected to MongoDB")
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Database exposes the underlying database handle.
func (s *Store) Database() *mongo.Database {
	return s.database
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.database.Collection(CollectionMessages).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "clientId", Value: 1}}},
	})
	return err
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	AvatarURL string    `bson:"avatarUrl,omitempty"`
	LastSeen  time.Time `bson:"lastSeen,omitempty"`
}

type chatDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name,omitempty"`
	Members   []string  `bson:"members"`
	IsGroup   bool      `bson:"isGroup"`
	CreatedAt time.Time `bson:"createdAt"`
}

type messageDoc struct {
	ID          primitive.ObjectID  `bson:"_id"`
	ChatID      string              `bson:"chatId"`
	SenderID    string              `bson:"senderId"`
	Content     string              `bson:"content"`
	Attachments []chat.Attachment   `bson:"attachments,omitempty"`
	Reactions   []reactionDoc       `bson:"reactions"`
	ReplyTo     *primitive.ObjectID `bson:"replyTo,omitempty"`
	ClientID    string              `bson:"clientId,omitempty"`
	CreatedAt   time.Time           `bson:"createdAt"`
}

type reactionDoc struct {
	UserID string `bson:"userId"`
	Emoji  string `bson:"emoji"`
}

func (d messageDoc) toModel() chat.Message {
	msg := chat.Message{
		ID:          d.ID.Hex(),
		ChatID:      d.ChatID,
		SenderID:    d.SenderID,
		Content:     d.Content,
		Attachments: d.Attachments,
		ClientID:    d.ClientID,
		CreatedAt:   d.CreatedAt,
	}
	if d.ReplyTo != nil {
		msg.ReplyTo = d.ReplyTo.Hex()
	}
	for _, r := range d.Reactions {
		msg.Reactions = append(msg.Reactions, chat.Reaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return msg
}

// CreateMessage inserts a message document.
func (s *Store) CreateMessage(ctx context.Context, msg *chat.Message) error {
	if msg.ID == "" {
		msg.ID = chat.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	oid, err := primitive.ObjectIDFromHex(msg.ID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}

	doc := messageDoc{
		ID:          oid,
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		Reactions:   []reactionDoc{},
		ClientID:    msg.ClientID,
		CreatedAt:   msg.CreatedAt,
	}
	if msg.ReplyTo != "" {
		replyID, err := primitive.ObjectIDFromHex(msg.ReplyTo)
		if err != nil {
			return fmt.Errorf("invalid reply id %q: %w", msg.ReplyTo, err)
		}
		doc.ReplyTo = &replyID
	}

	if _, err := s.database.Collection(CollectionMessages).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FindMessage looks up a message by object id.
func (s *Store) FindMessage(ctx context.Context, id string) (*chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.findOneMessage(ctx, bson.M{"_id": oid})
}

// FindMessageByClientID looks up a message by client correlation id.
func (s *Store) FindMessageByClientID(ctx context.Context, chatID, clientID string) (*chat.Message, error) {
	return s.findOneMessage(ctx, bson.M{"chatId": chatID, "clientId": clientID})
}

func (s *Store) findOneMessage(ctx context.Context, filter bson.M) (*chat.Message, error) {
	var doc messageDoc
	err := s.database.Collection(CollectionMessages).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	msg := doc.toModel()
	return &msg, nil
}

// RecentMessages reads the newest limit messages and returns them oldest first.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.database.Collection(CollectionMessages).Find(ctx, bson.M{"chatId": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find recent messages: %w", err)
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode recent messages: %w", err)
	}

	messages := make([]chat.Message, len(docs))
	for i, doc := range docs {
		messages[len(docs)-1-i] = doc.toModel()
	}
	return messages, nil
}

// AddReaction adds a reaction with $addToSet.
func (s *Store) AddReaction(ctx context.Context, messageID string, reaction chat.Reaction) (*chat.Message, error) {
	return s.updateReactions(ctx, messageID, bson.M{"$addToSet": bson.M{"reactions": reactionDoc(reaction)}})
}

// RemoveReaction removes a reaction with $pull.
func (s *Store) RemoveReaction(ctx context.Context, messageID string, reaction chat.Reaction) (*chat.Message, error) {
	return s.updateReactions(ctx, messageID, bson.M{"$pull": bson.M{"reactions": reactionDoc(reaction)}})
}

func (s *Store) updateReactions(ctx context.Context, messageID string, update bson.M) (*chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, store.ErrNotFound
	}

	var doc messageDoc
	err = s.database.Collection(CollectionMessages).
		FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update reactions: %w", err)
	}
	msg := doc.toModel()
	return &msg, nil
}

// FindChat looks up a chat document.
func (s *Store) FindChat(ctx context.Context, id string) (*chat.Chat, error) {
	var doc chatDoc
	err := s.database.Collection(CollectionChats).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return &chat.Chat{ID: doc.ID, Name: doc.Name, Members: doc.Members, IsGroup: doc.IsGroup, CreatedAt: doc.CreatedAt}, nil
}

// FindUser looks up a user document.
func (s *Store) FindUser(ctx context.Context, id string) (*chat.User, error) {
	var doc userDoc
	err := s.database.Collection(CollectionUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &chat.User{ID: doc.ID, Name: doc.Name, AvatarURL: doc.AvatarURL, LastSeen: doc.LastSeen}, nil
}

// UpdateLastSeen sets the user's lastSeen field.
func (s *Store) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	res, err := s.database.Collection(CollectionUsers).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastSeen": at}})
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// PutUser upserts a user document.
func (s *Store) PutUser(ctx context.Context, user chat.User) error {
	doc := userDoc{ID: user.ID, Name: user.Name, AvatarURL: user.AvatarURL, LastSeen: user.LastSeen}
	_, err := s.database.Collection(CollectionUsers).ReplaceOne(ctx, bson.M{"_id": user.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// PutChat upserts a chat document.
func (s *Store) PutChat(ctx context.Context, c chat.Chat) error {
	doc := chatDoc{ID: c.ID, Name: c.Name, Members: c.Members, IsGroup: c.IsGroup, CreatedAt: c.CreatedAt}
	_, err := s.database.Collection(CollectionChats).ReplaceOne(ctx, bson.M{"_id": c.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

var _ store.Store = (*Store)(nil)
