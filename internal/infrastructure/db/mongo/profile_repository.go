package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

const (
	collectionUsers       = "users"
	collectionClients     = "clients"
	collectionLandscapers = "landscapers"
)

// ProfileRepository implements ports.ProfileRepository using MongoDB.
type ProfileRepository struct {
	users       *mongo.Collection
	clients     *mongo.Collection
	landscapers *mongo.Collection
	now         func() time.Time
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{
		users:       db.Collection(collectionUsers),
		clients:     db.Collection(collectionClients),
		landscapers: db.Collection(collectionLandscapers),
		now:         time.Now,
	}
}

// FindSpecialistByUserID retrieves the landscaper record of an identity.
func (r *ProfileRepository) FindSpecialistByUserID(ctx context.Context, userID string) (*domain.SpecialistProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var p domain.SpecialistProfile
	if err := r.landscapers.FindOne(ctx, bson.M{"user_id": userID}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("find landscaper: %w", err)
	}
	return &p, nil
}

// FindGenericByUserID retrieves the generic profile of an identity.
func (r *ProfileRepository) FindGenericByUserID(ctx context.Context, userID string) (*domain.GenericProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var p domain.GenericProfile
	if err := r.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &p, nil
}

// EnsureUserRecords inserts the generic profile and the role record when they
// are missing. Existing documents are never modified, so repeated calls
// report nothing created.
func (r *ProfileRepository) EnsureUserRecords(ctx context.Context, in ports.EnsureUserRecordsInput) (ports.EnsureUserRecordsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var out ports.EnsureUserRecordsOutput
	now := r.now().UTC()

	created, err := insertIfMissing(ctx, r.users, in.UserID, genericDocument(in, now))
	if err != nil {
		return out, fmt.Errorf("ensure user: %w", err)
	}
	out.UsersCreated = created

	switch in.Role {
	case domain.RoleLandscaper:
		created, err = insertIfMissing(ctx, r.landscapers, in.UserID, bson.M{"user_id": in.UserID, "created_at": now})
		if err != nil {
			return out, fmt.Errorf("ensure landscaper: %w", err)
		}
		out.LandscapersCreated = created
	case domain.RoleClient:
		created, err = insertIfMissing(ctx, r.clients, in.UserID, bson.M{"user_id": in.UserID, "created_at": now})
		if err != nil {
			return out, fmt.Errorf("ensure client: %w", err)
		}
		out.ClientsCreated = created
	}
	return out, nil
}

func genericDocument(in ports.EnsureUserRecordsInput, now time.Time) bson.M {
	doc := bson.M{
		"user_id":    in.UserID,
		"email":      in.Email,
		"role":       string(in.Role),
		"created_at": now,
	}
	for k, v := range map[string]string{"first_name": in.FirstName, "last_name": in.LastName, "phone": in.Phone} {
		if v != "" {
			doc[k] = v
		}
	}
	return doc
}

// insertIfMissing upserts doc keyed by user_id with $setOnInsert. A duplicate
// key error means a concurrent call won the race, which counts as not created.
func insertIfMissing(ctx context.Context, col *mongo.Collection, userID string, doc bson.M) (bool, error) {
	res, err := col.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

// EnsureIndexes creates the unique user_id indexes the upserts rely on.
func (r *ProfileRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, col := range []*mongo.Collection{r.users, r.clients, r.landscapers} {
		_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", col.Name(), err)
		}
	}
	return nil
}
