package mongo

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

func TestRawChange_Insert(t *testing.T) {
	oid := primitive.NewObjectID()
	doc := changeDocument{OperationType: "insert", FullDocument: bson.M{"_id": oid, "title": "mow"}}
	doc.NS.Coll = "jobs"
	doc.ClusterTime = primitive.Timestamp{T: 1700000000}

	raw, ok := rawChange(doc)
	if !ok {
		t.Fatal("expected insert to map")
	}
	if raw.Table != "jobs" || raw.Type != "INSERT" {
		t.Errorf("raw = %+v", raw)
	}
	if raw.New["id"] != oid.Hex() {
		t.Errorf("id = %v, want %s", raw.New["id"], oid.Hex())
	}
	if _, ok := raw.New["_id"]; ok {
		t.Errorf("_id should be renamed")
	}
	if !raw.CommitTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CommitTime = %v", raw.CommitTime)
	}
}

func TestRawChange_UpdateWithoutFullDocument(t *testing.T) {
	doc := changeDocument{OperationType: "update", DocumentKey: bson.M{"_id": "q-1"}}
	doc.NS.Coll = "quotes"
	doc.UpdateDescription.UpdatedFields = bson.M{"amount": 120}

	raw, ok := rawChange(doc)
	if !ok {
		t.Fatal("expected update to map")
	}
	if raw.New["id"] != "q-1" || raw.New["amount"] != 120 {
		t.Errorf("New = %v", raw.New)
	}
}

func TestRawChange_Delete(t *testing.T) {
	doc := changeDocument{OperationType: "delete", DocumentKey: bson.M{"_id": "m-9"}}
	doc.NS.Coll = "messages"

	raw, ok := rawChange(doc)
	if !ok {
		t.Fatal("expected delete to map")
	}
	if raw.Old["id"] != "m-9" || raw.New != nil {
		t.Errorf("raw = %+v", raw)
	}
}

func TestRawChange_SkipsNonRowOperations(t *testing.T) {
	if _, ok := rawChange(changeDocument{OperationType: "invalidate"}); ok {
		t.Fatal("invalidate should be skipped")
	}
}

func TestPipeline_FilterLetsDeletesThrough(t *testing.T) {
	p := pipeline(ports.TableFilter{Table: "jobs", Events: []string{"update", "delete"}, Filter: map[string]any{"user_id": "u1"}})
	if len(p) != 1 || p[0][0].Key != "$match" {
		t.Fatalf("unexpected pipeline %v", p)
	}
	match := p[0][0].Value.(bson.M)
	and, ok := match["$and"].(bson.A)
	if !ok || len(and) != 2 {
		t.Fatalf("expected $and with two clauses, got %v", match)
	}
	ops := and[0].(bson.M)["operationType"].(bson.M)["$in"].(bson.A)
	want := bson.A{"update", "replace", "delete"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops[%d] = %v, want %v", i, ops[i], want[i])
		}
	}
}

func TestToRow_KeepsExplicitID(t *testing.T) {
	row := toRow(bson.M{"_id": primitive.NewObjectID(), "id": 42, "when": primitive.NewDateTimeFromTime(time.Unix(0, 0))})
	if row["id"] != 42 {
		t.Errorf("id = %v, want 42", row["id"])
	}
	if _, ok := row["when"].(time.Time); !ok {
		t.Errorf("when should be time.Time, got %T", row["when"])
	}
}
