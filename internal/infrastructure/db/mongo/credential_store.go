package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

const (
	usersCollection    = "users"
	countersCollection = "counters"
	userSequence       = "users"
)

// CredentialStore implements ports.CredentialStore on MongoDB. Each mutation
// is a single UpdateOne whose filter carries the precondition, which makes it
// an atomic compare-and-set on the user document.
type CredentialStore struct {
	users    *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

var _ ports.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db *mongo.Database) *CredentialStore {
	return &CredentialStore{
		users:    db.Collection(usersCollection),
		counters: db.Collection(countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type userDocument struct {
	ID           int64     `bson:"_id"`
	Username     string    `bson:"username"`
	UsernameKey  string    `bson:"username_key"`
	Email        string    `bson:"email"`
	EmailKey     string    `bson:"email_key"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	Active       bool      `bson:"active"`
	TOTPSeed     []byte    `bson:"totp_seed,omitempty"`
	TOTPEnabled  bool      `bson:"totp_enabled"`
	BrokerName   string    `bson:"broker_name"`
	BrokerAPIKey []byte    `bson:"broker_api_key,omitempty"`
	ClientID     string    `bson:"broker_client_id,omitempty"`
	AccessToken  []byte    `bson:"broker_access_token,omitempty"`
	FeedToken    []byte    `bson:"broker_feed_token,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// EnsureIndexes creates the unique lookup indexes on the users collection.
func (s *CredentialStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "username_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}}},
	}

	_, err := s.users.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *CredentialStore) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}

	doc := toDocument(user)
	doc.ID = id
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	doc.UpdatedAt = doc.CreatedAt

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.toDomain(), nil
}

// nextID hands out monotonically increasing numeric user ids.
func (s *CredentialStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": userSequence},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next user id: %w", err)
	}
	return counter.Seq, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findOne(ctx, bson.M{"username_key": fold(username)})
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOne(ctx, bson.M{"email_key": fold(email)})
}

func (s *CredentialStore) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *CredentialStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.update(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"password_hash": passwordHash},
	}, domain.ErrNotFound)
}

func (s *CredentialStore) UpdateProfile(ctx context.Context, id int64, update domain.ProfileUpdate) (*domain.User, error) {
	set := bson.M{}
	unset := bson.M{}
	if update.Username != nil {
		set["username"] = *update.Username
		set["username_key"] = fold(*update.Username)
	}
	if update.Email != nil {
		set["email"] = *update.Email
		set["email_key"] = fold(*update.Email)
	}
	if update.BrokerName != nil {
		set["broker_name"] = string(*update.BrokerName)
	}
	if update.APIKey.Present() {
		set["broker_api_key"] = []byte(update.APIKey)
	}
	if update.ResetsBrokerSession() {
		unset = sessionFields()
	}

	doc := bson.M{"$set": set}
	if len(unset) > 0 {
		doc["$unset"] = unset
	}
	if err := s.update(ctx, bson.M{"_id": id}, doc, domain.ErrNotFound); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *CredentialStore) WritePendingSeed(ctx context.Context, id int64, seed domain.Sealed) error {
	return s.update(ctx,
		bson.M{"_id": id, "totp_enabled": false},
		bson.M{"$set": bson.M{"totp_seed": []byte(seed)}},
		domain.ErrTwoFactorEnabled,
	)
}

func (s *CredentialStore) EnableTOTP(ctx context.Context, id int64, seed domain.Sealed) error {
	return s.update(ctx,
		bson.M{"_id": id, "totp_enabled": false, "totp_seed": []byte(seed)},
		bson.M{"$set": bson.M{"totp_enabled": true}},
		domain.ErrConflict,
	)
}

func (s *CredentialStore) DisableTOTP(ctx context.Context, id int64) error {
	unset := sessionFields()
	unset["totp_seed"] = ""
	return s.update(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"totp_enabled": false},
		"$unset": unset,
	}, domain.ErrNotFound)
}

func (s *CredentialStore) LinkBroker(ctx context.Context, id int64, session domain.BrokerSession) error {
	return s.update(ctx,
		bson.M{"_id": id, "totp_enabled": true},
		bson.M{"$set": bson.M{
			"broker_client_id":    session.ClientID,
			"broker_access_token": []byte(session.AccessToken),
			"broker_feed_token":   []byte(session.FeedToken),
		}},
		domain.ErrTwoFactorRequired,
	)
}

func (s *CredentialStore) ClearBrokerSession(ctx context.Context, id int64) error {
	return s.update(ctx, bson.M{"_id": id}, bson.M{"$unset": sessionFields()}, domain.ErrNotFound)
}

// update runs a conditional UpdateOne. When nothing matched, it tells a
// missing user apart from a failed precondition (reported as onMiss).
func (s *CredentialStore) update(ctx context.Context, filter, update bson.M, onMiss error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set, _ := update["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
		update["$set"] = set
	}
	set["updated_at"] = s.now()

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return err
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.users.CountDocuments(ctx, bson.M{"_id": filter["_id"]})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return onMiss
}

func sessionFields() bson.M {
	return bson.M{
		"broker_client_id":    "",
		"broker_access_token": "",
		"broker_feed_token":   "",
	}
}

func toDocument(u *domain.User) userDocument {
	return userDocument{
		ID:           u.ID,
		Username:     u.Username,
		UsernameKey:  fold(u.Username),
		Email:        u.Email,
		EmailKey:     fold(u.Email),
		PasswordHash: u.Platform.PasswordHash,
		Role:         string(u.Role),
		Active:       u.Active,
		TOTPSeed:     u.TwoFactor.Seed,
		TOTPEnabled:  u.TwoFactor.Enabled,
		BrokerName:   string(u.Broker.Name),
		BrokerAPIKey: u.Broker.APIKey,
		ClientID:     u.Broker.ClientID,
		AccessToken:  u.Broker.AccessToken,
		FeedToken:    u.Broker.FeedToken,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDocument) toDomain() *domain.User {
	return &domain.User{
		ID:       d.ID,
		Username: d.Username,
		Email:    d.Email,
		Role:     domain.Role(d.Role),
		Active:   d.Active,
		Platform: domain.PlatformCredentials{PasswordHash: d.PasswordHash},
		TwoFactor: domain.TwoFactor{
			Seed:    d.TOTPSeed,
			Enabled: d.TOTPEnabled,
		},
		Broker: domain.BrokerLink{
			Name:        domain.BrokerName(d.BrokerName),
			APIKey:      d.BrokerAPIKey,
			ClientID:    d.ClientID,
			AccessToken: d.AccessToken,
			FeedToken:   d.FeedToken,
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
