package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitae/vitae/backend/go-services/internal/records"
	"github.com/vitae/vitae/backend/go-services/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo implements Storage over one collection per definition, with
// revisions kept in "<name>_revisions".
type Mongo struct {
	def  *records.Definition
	col  *mongo.Collection
	revs *mongo.Collection
}

func NewMongo(db *mongo.Database, def *records.Definition) *Mongo {
	return &Mongo{
		def:  def,
		col:  db.Collection(def.Name),
		revs: db.Collection(def.Name + "_revisions"),
	}
}

func (m *Mongo) Definition() *records.Definition { return m.def }

func (m *Mongo) Add(ctx context.Context, rec records.Record, rev Revision) (string, error) {
	row, err := prepareAdd(m.def, rec)
	if err != nil {
		return "", err
	}
	if _, err := m.col.InsertOne(ctx, bson.M(row)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", m.duplicate(ctx, row, "")
		}
		return "", fmt.Errorf("%s insert: %w", m.def.Name, err)
	}
	id := row.ID()
	m.revise(ctx, id, rev, ActionAdd, row.Without(records.Managed...))
	return id, nil
}

func (m *Mongo) Get(ctx context.Context, id string) (records.Record, error) {
	return m.findOne(ctx, bson.M{records.IDField: id})
}

func (m *Mongo) GetBy(ctx context.Context, index string, value any) (records.Record, error) {
	ix, err := lookupIndex(m.def, index)
	if err != nil {
		return nil, err
	}
	return m.findOne(ctx, bson.M{ix.Field: value})
}

func (m *Mongo) All(ctx context.Context) ([]records.Record, error) {
	return m.find(ctx, bson.M{})
}

func (m *Mongo) Exists(ctx context.Context, id string) (bool, error) {
	n, err := m.col.CountDocuments(ctx, bson.M{records.IDField: id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("%s count: %w", m.def.Name, err)
	}
	return n > 0, nil
}

func (m *Mongo) Filter(ctx context.Context, field string, value any) ([]records.Record, error) {
	return m.find(ctx, bson.M{field: value})
}

func (m *Mongo) Save(ctx context.Context, id string, changes records.Record, rev Revision) (bool, error) {
	set, err := prepareSave(m.def, changes)
	if err != nil {
		return false, err
	}
	upd := bson.M{records.UpdatedField: now()}
	for k, v := range set {
		upd[k] = v
	}
	res, err := m.col.UpdateOne(ctx, bson.M{records.IDField: id}, bson.M{"$set": upd})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, m.duplicate(ctx, set, id)
		}
		return false, fmt.Errorf("%s update: %w", m.def.Name, err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}
	m.revise(ctx, id, rev, ActionSave, set)
	return true, nil
}

func (m *Mongo) Remove(ctx context.Context, id string, rev Revision) (bool, error) {
	res, err := m.col.DeleteOne(ctx, bson.M{records.IDField: id})
	if err != nil {
		return false, fmt.Errorf("%s delete: %w", m.def.Name, err)
	}
	if res.DeletedCount == 0 {
		return false, nil
	}
	m.revise(ctx, id, rev, ActionRemove, nil)
	return true, nil
}

func (m *Mongo) Revisions(ctx context.Context, id string) ([]RevisionEntry, error) {
	cur, err := m.revs.Find(ctx, bson.M{"record": id}, options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%s revisions: %w", m.def.Name, err)
	}
	defer cur.Close(ctx)
	out := []RevisionEntry{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		e := RevisionEntry{}
		e.Record, _ = doc["record"].(string)
		e.User, _ = doc["user"].(string)
		e.Action, _ = doc["action"].(string)
		if at, ok := doc["at"].(primitive.DateTime); ok {
			e.At = at.Time().UTC()
		}
		switch ch := doc["changes"].(type) {
		case bson.M:
			e.Changes = fromBSON(ch)
		case bson.D:
			e.Changes = fromBSON(ch.Map())
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

// Indexes returns the index models Install creates.
func (m *Mongo) Indexes() []mongo.IndexModel {
	out := make([]mongo.IndexModel, 0, len(m.def.Indexes))
	for _, ix := range m.def.Indexes {
		opts := options.Index().SetName(ix.Name)
		if ix.Unique {
			opts.SetUnique(true)
		}
		out = append(out, mongo.IndexModel{Keys: bson.D{{Key: ix.Field, Value: 1}}, Options: opts})
	}
	return out
}

func (m *Mongo) install(ctx context.Context) error {
	if idx := m.Indexes(); len(idx) > 0 {
		if _, err := m.col.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("%s indexes: %w", m.def.Name, err)
		}
	}
	rix := mongo.IndexModel{Keys: bson.D{{Key: "record", Value: 1}, {Key: "at", Value: 1}}}
	if _, err := m.revs.Indexes().CreateOne(ctx, rix); err != nil {
		return fmt.Errorf("%s revision index: %w", m.def.Name, err)
	}
	return nil
}

func (m *Mongo) uninstall(ctx context.Context) error {
	if err := m.col.Drop(ctx); err != nil {
		return err
	}
	return m.revs.Drop(ctx)
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (records.Record, error) {
	var doc bson.M
	if err := m.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s find: %w", m.def.Name, err)
	}
	return fromBSON(doc), nil
}

func (m *Mongo) find(ctx context.Context, filter bson.M) ([]records.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: records.CreatedField, Value: 1}, {Key: records.IDField, Value: 1}})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s find: %w", m.def.Name, err)
	}
	defer cur.Close(ctx)
	out := []records.Record{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromBSON(doc))
	}
	return out, cur.Err()
}

// duplicate works out which unique field collided. The driver error only
// names the index, so each unique field is checked against other records.
func (m *Mongo) duplicate(ctx context.Context, row records.Record, self string) error {
	for _, ix := range m.def.Unique() {
		v, ok := row[ix.Field]
		if !ok {
			continue
		}
		filter := bson.M{ix.Field: v}
		if self != "" {
			filter[records.IDField] = bson.M{"$ne": self}
		}
		n, err := m.col.CountDocuments(ctx, filter, options.Count().SetLimit(1))
		if err == nil && n > 0 {
			return &DuplicateError{Field: ix.Field, Value: v}
		}
	}
	return &DuplicateError{Field: records.IDField, Value: row.ID()}
}

// revise records an audit entry. A failed revision write does not undo
// the mutation.
func (m *Mongo) revise(ctx context.Context, id string, rev Revision, action string, changes records.Record) {
	doc := bson.M{"record": id, "user": rev.User, "action": action, "at": now()}
	if len(changes) > 0 {
		doc["changes"] = bson.M(changes)
	}
	if _, err := m.revs.InsertOne(ctx, doc); err != nil {
		logger.Warnf("mongo: revision %s %s %s: %v", m.def.Name, action, id, err)
	}
}

func fromBSON(doc bson.M) records.Record {
	out := make(records.Record, len(doc))
	for k, v := range doc {
		switch t := v.(type) {
		case primitive.DateTime:
			out[k] = t.Time().UTC()
		case int32:
			out[k] = int64(t)
		case bson.M:
			out[k] = fromBSON(t)
		default:
			out[k] = v
		}
	}
	return out
}

// MongoInstaller installs the collections and indexes of a set of stores.
type MongoInstaller struct {
	Stores []*Mongo
}

func (i MongoInstaller) Install(ctx context.Context) error {
	for _, s := range i.Stores {
		if err := s.install(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (i MongoInstaller) Uninstall(ctx context.Context) error {
	for _, s := range i.Stores {
		if err := s.uninstall(ctx); err != nil {
			return err
		}
	}
	return nil
}

var _ Storage = (*Mongo)(nil)
var _ Storage = (*Memory)(nil)
