// Package mongostore implements the store contracts on MongoDB.
//
// Replace runs inside a multi-document transaction, so the server must be a
// replica set or sharded cluster. Each Replace first bumps a per-identifier
// document in token_locks; concurrent Replace calls for one identifier then
// conflict on that document and the driver retries the loser, which sees the
// winner's row and deletes it.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

const (
	defaultTimeout  = 10 * time.Second
	usersCollection = "users"
	tokenCollection = "auth_tokens"
	lockCollection  = "token_locks"
)

// Config captures the settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Store implements store.UserStore and store.TokenStore.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	tokens *mongo.Collection
	locks  *mongo.Collection
}

// Connect establishes a client, verifies connectivity with a ping, and
// returns a Store over cfg.Database.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return New(client, cfg.Database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client: client,
		users:  db.Collection(usersCollection),
		tokens: db.Collection(tokenCollection),
		locks:  db.Collection(lockCollection),
	}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes both collections rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "identifier", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create token indexes: %w", err)
	}
	return nil
}

type mongoUser struct {
	ID            string     `bson:"_id"`
	Email         string     `bson:"email"`
	Name          string     `bson:"name"`
	PasswordHash  string     `bson:"password_hash,omitempty"`
	Role          string     `bson:"role"`
	Image         string     `bson:"image,omitempty"`
	EmailVerified *time.Time `bson:"email_verified,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func (m mongoUser) toUser() store.User {
	return store.User{
		ID:            m.ID,
		Email:         m.Email,
		Name:          m.Name,
		PasswordHash:  m.PasswordHash,
		Role:          permission.Role(m.Role),
		Image:         m.Image,
		EmailVerified: m.EmailVerified,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type mongoToken struct {
	ID         string    `bson:"_id"`
	Kind       string    `bson:"kind"`
	Identifier string    `bson:"identifier"`
	TokenHash  string    `bson:"token_hash"`
	ExpiresAt  time.Time `bson:"expires_at"`
	Used       bool      `bson:"used"`
	CreatedAt  time.Time `bson:"created_at"`
}

func fromRecord(rec store.TokenRecord) mongoToken {
	return mongoToken{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		Identifier: rec.Identifier,
		TokenHash:  rec.TokenHash,
		ExpiresAt:  rec.ExpiresAt,
		Used:       rec.Used,
		CreatedAt:  rec.CreatedAt,
	}
}

func (m mongoToken) toRecord() store.TokenRecord {
	return store.TokenRecord{
		ID:         m.ID,
		Kind:       store.Kind(m.Kind),
		Identifier: m.Identifier,
		TokenHash:  m.TokenHash,
		ExpiresAt:  m.ExpiresAt.UTC(),
		Used:       m.Used,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

// GetUserByEmail implements store.UserStore.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

// GetUserByID implements store.UserStore.
func (s *Store) GetUserByID(ctx context.Context, id string) (store.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (store.User, error) {
	var mu mongoUser
	if err := s.users.FindOne(ctx, filter).Decode(&mu); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("find user: %w", err)
	}
	return mu.toUser(), nil
}

// CreateUser implements store.UserStore.
func (s *Store) CreateUser(ctx context.Context, in store.NewUser) (store.User, error) {
	now := time.Now().UTC()
	doc := mongoUser{
		ID:            store.NewID(),
		Email:         in.Email,
		Name:          in.Name,
		PasswordHash:  in.PasswordHash,
		Role:          string(in.Role),
		Image:         in.Image,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.User{}, store.ErrDuplicate
		}
		return store.User{}, fmt.Errorf("insert user: %w", err)
	}
	return doc.toUser(), nil
}

// UpdatePasswordHash implements store.UserStore.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.updateUser(ctx, userID, bson.M{"password_hash": hash})
}

// MarkEmailVerified implements store.UserStore.
func (s *Store) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, userID, bson.M{"email_verified": at})
}

func (s *Store) updateUser(ctx context.Context, userID string, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateProfile implements store.UserStore.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update store.ProfileUpdate) (store.User, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != "" {
		set["name"] = update.Name
	}
	if update.Image != "" {
		set["image"] = update.Image
	}
	if !update.EmailVerified.IsZero() {
		set["email_verified"] = update.EmailVerified
	}

	var mu mongoUser
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&mu)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("update profile: %w", err)
	}
	return mu.toUser(), nil
}

// Create implements store.TokenStore.
func (s *Store) Create(ctx context.Context, rec store.TokenRecord) error {
	if _, err := s.tokens.InsertOne(ctx, fromRecord(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Replace implements store.TokenStore inside a transaction.
func (s *Store) Replace(ctx context.Context, rec store.TokenRecord) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		_, err := s.locks.UpdateOne(sc,
			bson.M{"_id": lockKey(rec.Kind, rec.Identifier)},
			bson.M{"$inc": bson.M{"seq": 1}},
			options.Update().SetUpsert(true))
		if err != nil {
			return nil, err
		}
		if _, err := s.tokens.DeleteMany(sc, bson.M{"kind": string(rec.Kind), "identifier": rec.Identifier}); err != nil {
			return nil, err
		}
		_, err = s.tokens.InsertOne(sc, fromRecord(rec))
		return nil, err
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("replace token: %w", err)
	}
	return nil
}

func lockKey(kind store.Kind, identifier string) string {
	return string(kind) + ":" + identifier
}

// Get implements store.TokenStore.
func (s *Store) Get(ctx context.Context, kind store.Kind, tokenHash string) (store.TokenRecord, error) {
	var mt mongoToken
	err := s.tokens.FindOne(ctx, bson.M{"kind": string(kind), "token_hash": tokenHash}).Decode(&mt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.TokenRecord{}, store.ErrNotFound
		}
		return store.TokenRecord{}, fmt.Errorf("find token: %w", err)
	}
	return mt.toRecord(), nil
}

// MarkUsed implements store.TokenStore.
func (s *Store) MarkUsed(ctx context.Context, kind store.Kind, tokenHash string) error {
	res, err := s.tokens.UpdateOne(ctx,
		bson.M{"kind": string(kind), "token_hash": tokenHash, "used": false},
		bson.M{"$set": bson.M{"used": true}})
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if res.ModifiedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete implements store.TokenStore.
func (s *Store) Delete(ctx context.Context, kind store.Kind, tokenHash string) error {
	res, err := s.tokens.DeleteOne(ctx, bson.M{"kind": string(kind), "token_hash": tokenHash})
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteExpired implements store.TokenStore.
func (s *Store) DeleteExpired(ctx context.Context, kind store.Kind, cutoff time.Time) (int64, error) {
	res, err := s.tokens.DeleteMany(ctx, bson.M{"kind": string(kind), "expires_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.DeletedCount, nil
}

var (
	_ store.UserStore  = (*Store)(nil)
	_ store.TokenStore = (*Store)(nil)
)
