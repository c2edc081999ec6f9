package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// maxRows bounds an initial collection load.
const maxRows = 1000

// RowStore implements ports.RowFetcher over arbitrary collections.
type RowStore struct {
	db *mongo.Database
}

func NewRowStore(db *mongo.Database) *RowStore {
	return &RowStore{db: db}
}

// FetchRows returns the documents of table matching filter, in insertion
// order, with the document key exposed as "id".
func (s *RowStore) FetchRows(ctx context.Context, table string, filter map[string]any) ([]domain.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	q := bson.M{}
	for k, v := range filter {
		q[k] = v
	}

	opts := options.Find().SetLimit(maxRows).SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(table).Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}

	rows := make([]domain.Row, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, toRow(d))
	}
	return rows, nil
}

// toRow converts a decoded document into a row. _id becomes "id" unless the
// document carries its own id field; ObjectIDs and dates are rendered in
// their JSON-friendly forms.
func toRow(doc bson.M) domain.Row {
	if doc == nil {
		return nil
	}
	row := make(domain.Row, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		row[k] = plain(v)
	}
	if _, ok := row["id"]; !ok {
		if id, ok := doc["_id"]; ok {
			row["id"] = plain(id)
		}
	}
	return row
}

func plain(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case bson.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = plain(vv)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = plain(vv)
		}
		return out
	default:
		return v
	}
}
