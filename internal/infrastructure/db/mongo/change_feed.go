package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

var errStreamClosed = errors.New("change stream closed")

// ChangeFeed implements ports.ChangeFeed with one MongoDB change stream per
// table of a channel.
type ChangeFeed struct {
	db  *mongo.Database
	log zerolog.Logger
}

func NewChangeFeed(db *mongo.Database, log zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{db: db, log: log}
}

type changeDocument struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey       bson.M `bson:"documentKey"`
	FullDocument      bson.M `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
	ClusterTime primitive.Timestamp `bson:"clusterTime"`
}

// Subscribe opens the streams for filters. If any stream ends, all of them
// are closed and h.OnError is called once.
func (f *ChangeFeed) Subscribe(ctx context.Context, channel string, filters []ports.TableFilter, h ports.FeedHandlers) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	log := f.log.With().Str("channel", channel).Logger()

	streams := make([]*mongo.ChangeStream, 0, len(filters))
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	for _, flt := range filters {
		cs, err := f.db.Collection(flt.Table).Watch(ctx, pipeline(flt), opts)
		if err != nil {
			cancel()
			for _, s := range streams {
				_ = s.Close(context.Background())
			}
			return nil, fmt.Errorf("watch %s: %w", flt.Table, err)
		}
		streams = append(streams, cs)
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
	)
	fail := func(err error) {
		errOnce.Do(func() {
			cancel()
			if h.OnError != nil {
				h.OnError(err)
			}
		})
	}

	for _, cs := range streams {
		wg.Add(1)
		go func(cs *mongo.ChangeStream) {
			defer wg.Done()
			defer func() { _ = cs.Close(context.Background()) }()

			for cs.Next(ctx) {
				var doc changeDocument
				if err := cs.Decode(&doc); err != nil {
					log.Warn().Err(err).Msg("undecodable change document")
					continue
				}
				raw, ok := rawChange(doc)
				if !ok {
					continue
				}
				h.OnChange(raw)
			}
			if ctx.Err() != nil {
				return
			}
			err := cs.Err()
			if err == nil {
				err = errStreamClosed
			}
			fail(err)
		}(cs)
	}

	log.Debug().Int("tables", len(filters)).Msg("change streams opened")

	var once sync.Once
	return func() {
		once.Do(func() {
			errOnce.Do(func() {})
			cancel()
			wg.Wait()
		})
	}, nil
}

// pipeline restricts a stream to the filter's event types and, for inserts
// and updates, to rows matching the equality filter. Deletes only carry the
// document key, so they pass unfiltered.
func pipeline(f ports.TableFilter) mongo.Pipeline {
	ops := operationTypes(f.Events)
	match := bson.M{"operationType": bson.M{"$in": ops}}

	if len(f.Filter) > 0 {
		full := bson.M{}
		for k, v := range f.Filter {
			full["fullDocument."+k] = v
		}
		match = bson.M{"$and": bson.A{
			match,
			bson.M{"$or": bson.A{bson.M{"operationType": "delete"}, full}},
		}}
	}
	return mongo.Pipeline{{{Key: "$match", Value: match}}}
}

func operationTypes(events []string) bson.A {
	all := bson.A{"insert", "update", "replace", "delete"}
	if len(events) == 0 {
		return all
	}
	var out bson.A
	for _, e := range events {
		switch strings.ToUpper(e) {
		case "*":
			return all
		case "INSERT":
			out = append(out, "insert")
		case "UPDATE":
			out = append(out, "update", "replace")
		case "DELETE":
			out = append(out, "delete")
		}
	}
	return out
}

// rawChange maps a change document onto the feed payload. Operations other
// than row changes (drop, invalidate, ...) are skipped.
func rawChange(doc changeDocument) (ports.RawChange, bool) {
	raw := ports.RawChange{
		Table: doc.NS.Coll,
		Type:  strings.ToUpper(doc.OperationType),
	}
	if doc.ClusterTime.T != 0 {
		raw.CommitTime = time.Unix(int64(doc.ClusterTime.T), 0).UTC()
	}

	key := toRow(doc.DocumentKey)
	switch doc.OperationType {
	case "insert", "replace":
		raw.New = toRow(doc.FullDocument)
	case "update":
		if doc.FullDocument != nil {
			raw.New = toRow(doc.FullDocument)
		} else {
			raw.New = toRow(doc.UpdateDescription.UpdatedFields)
			if raw.New == nil {
				raw.New = map[string]any{}
			}
			raw.New["id"] = key["id"]
		}
	case "delete":
		raw.Old = key
	default:
		return ports.RawChange{}, false
	}
	return raw, true
}
