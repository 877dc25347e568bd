package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/krishng03/yt-sum/internal/models"
)

const (
	summariesCollection   = "summaries"
	usersCollection       = "users"
	countersCollection    = "counters"
	revocationsCollection = "revoked_sessions"

	userIDCounter = "userid"
)

type MongoBackend struct {
	client      *mongo.Client
	summaries   *mongo.Collection
	users       *mongo.Collection
	counters    *mongo.Collection
	revocations *mongo.Collection
}

// OpenMongo connects to uri and ensures the indexes the backend relies on.
func OpenMongo(ctx context.Context, uri, database string) (*MongoBackend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	b := newMongoBackend(client, client.Database(database))
	if err := b.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return b, nil
}

func newMongoBackend(client *mongo.Client, db *mongo.Database) *MongoBackend {
	return &MongoBackend{
		client:      client,
		summaries:   db.Collection(summariesCollection),
		users:       db.Collection(usersCollection),
		counters:    db.Collection(countersCollection),
		revocations: db.Collection(revocationsCollection),
	}
}

func (b *MongoBackend) ensureIndexes(ctx context.Context) error {
	if _, err := b.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userid", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	if _, err := b.summaries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userid", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "videoUrl", Value: 1}, {Key: "createdAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create summary indexes: %w", err)
	}
	// expired revocations are also dropped by the server
	if _, err := b.revocations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}); err != nil {
		return fmt.Errorf("failed to create revocation index: %w", err)
	}
	return nil
}

// recordFilter matches records for videoURL, scoped to owner unless owner is 0.
func recordFilter(owner int64, videoURL string) bson.D {
	filter := bson.D{{Key: "videoUrl", Value: videoURL}}
	if owner != 0 {
		filter = append(filter, bson.E{Key: "userid", Value: owner})
	}
	return filter
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

func (b *MongoBackend) InsertRecord(ctx context.Context, rec *models.AnalysisRecord) error {
	_, err := b.summaries.InsertOne(ctx, rec)
	return err
}

func (b *MongoBackend) ListRecords(ctx context.Context, owner int64) ([]models.AnalysisRecord, error) {
	cursor, err := b.summaries.Find(ctx, bson.D{{Key: "userid", Value: owner}},
		options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	var records []models.AnalysisRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (b *MongoBackend) LatestNotes(ctx context.Context, owner int64, videoURL string) (string, error) {
	var doc struct {
		Notes string `bson:"notes"`
	}
	err := b.summaries.FindOne(ctx, recordFilter(owner, videoURL),
		options.FindOne().SetSort(newestFirst).SetProjection(bson.D{{Key: "notes", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Notes, nil
}

func (b *MongoBackend) UpdateLatestNotes(ctx context.Context, owner int64, videoURL, notes string) error {
	err := b.summaries.FindOneAndUpdate(ctx, recordFilter(owner, videoURL),
		bson.D{{Key: "$set", Value: bson.D{{Key: "notes", Value: notes}}}},
		options.FindOneAndUpdate().SetSort(newestFirst),
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// nextUserID atomically increments the user id counter.
func (b *MongoBackend) nextUserID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := b.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: userIDCounter}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate user id: %w", err)
	}
	return counter.Seq, nil
}

func (b *MongoBackend) InsertUser(ctx context.Context, username, passwordHash string, createdAt time.Time) (*models.User, error) {
	// check first so a taken name does not burn a counter value
	if err := b.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Err(); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	id, err := b.nextUserID(ctx)
	if err != nil {
		return nil, err
	}
	user := &models.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: createdAt}
	if _, err := b.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

func (b *MongoBackend) findUser(ctx context.Context, filter bson.D) (*models.User, error) {
	var user models.User
	err := b.users.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (b *MongoBackend) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return b.findUser(ctx, bson.D{{Key: "username", Value: username}})
}

func (b *MongoBackend) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return b.findUser(ctx, bson.D{{Key: "userid", Value: id}})
}

func (b *MongoBackend) InsertRevocation(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := b.revocations.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: tokenID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "expiresAt", Value: expiresAt}}}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (b *MongoBackend) RevocationExists(ctx context.Context, tokenID string) (bool, error) {
	n, err := b.revocations.CountDocuments(ctx, bson.D{{Key: "_id", Value: tokenID}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *MongoBackend) DeleteRevocationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.revocations.DeleteMany(ctx,
		bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$lt", Value: cutoff}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, readpref.Primary())
}

func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}
