package cohort

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func mongoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func subjectFilter(q Query) bson.D {
	if q.SubjectID == nil {
		return bson.D{}
	}
	return bson.D{{Key: "subject_id", Value: *q.SubjectID}}
}

func findOptions(q Query, sort bson.D) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func listMongo[T any](ctx context.Context, coll *mongo.Collection, q Query, sort bson.D) ([]*T, int, error) {
	filter := subjectFilter(q)
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := coll.Find(ctx, filter, findOptions(q, sort))
	if err != nil {
		return nil, 0, err
	}
	var out []*T
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

func existsMongo(ctx context.Context, coll *mongo.Collection, filter bson.D) (bool, error) {
	n, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	return n > 0, err
}

// EnsureIndexes creates the unique indexes backing the natural keys.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	indexes := map[string]bson.D{
		SubjectsCollection:    {{Key: "subject_id", Value: 1}},
		AssessmentsCollection: {{Key: "subject_id", Value: 1}, {Key: "name", Value: 1}},
		IndicatorsCollection:  {{Key: "subject_id", Value: 1}},
	}
	for coll, keys := range indexes {
		model := mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		}
		if _, err := database.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", coll, err)
		}
	}
	return nil
}

// -- Subject Repository --

type subjectRepoMongo struct {
	coll *mongo.Collection
}

func NewSubjectRepoMongo(database *mongo.Database) SubjectRepository {
	return &subjectRepoMongo{coll: database.Collection(SubjectsCollection)}
}

func (r *subjectRepoMongo) key(subjectID int) bson.D {
	return bson.D{{Key: "subject_id", Value: subjectID}}
}

func (r *subjectRepoMongo) Create(ctx context.Context, s *Subject) error {
	_, err := r.coll.InsertOne(ctx, s)
	return mongoErr("subject create", err)
}

func (r *subjectRepoMongo) Get(ctx context.Context, subjectID int) (*Subject, error) {
	var s Subject
	if err := r.coll.FindOne(ctx, r.key(subjectID)).Decode(&s); err != nil {
		return nil, mongoErr("subject get", err)
	}
	return &s, nil
}

func (r *subjectRepoMongo) Exists(ctx context.Context, subjectID int) (bool, error) {
	ok, err := existsMongo(ctx, r.coll, r.key(subjectID))
	return ok, mongoErr("subject exists", err)
}

func (r *subjectRepoMongo) MaxID(ctx context.Context) (int, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "subject_id", Value: -1}})
	var s Subject
	err := r.coll.FindOne(ctx, bson.D{}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, mongoErr("subject max id", err)
	}
	return s.SubjectID, nil
}

func (r *subjectRepoMongo) List(ctx context.Context, q Query) ([]*Subject, int, error) {
	items, total, err := listMongo[Subject](ctx, r.coll, q, bson.D{{Key: "subject_id", Value: 1}})
	return items, total, mongoErr("subject list", err)
}

func (r *subjectRepoMongo) Update(ctx context.Context, s *Subject) error {
	res, err := r.coll.ReplaceOne(ctx, r.key(s.SubjectID), s)
	if err != nil {
		return mongoErr("subject update", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("subject update: %w", ErrNotFound)
	}
	return nil
}

func (r *subjectRepoMongo) Delete(ctx context.Context, subjectID int) (int64, error) {
	res, err := r.coll.DeleteOne(ctx, r.key(subjectID))
	if err != nil {
		return 0, mongoErr("subject delete", err)
	}
	return res.DeletedCount, nil
}

func (r *subjectRepoMongo) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	return n, mongoErr("subject count", err)
}

// -- Assessment Repository --

type assessmentRepoMongo struct {
	coll *mongo.Collection
}

func NewAssessmentRepoMongo(database *mongo.Database) AssessmentRepository {
	return &assessmentRepoMongo{coll: database.Collection(AssessmentsCollection)}
}

func (r *assessmentRepoMongo) key(subjectID int, name string) bson.D {
	return bson.D{{Key: "subject_id", Value: subjectID}, {Key: "name", Value: name}}
}

func (r *assessmentRepoMongo) Create(ctx context.Context, a *Assessment) error {
	_, err := r.coll.InsertOne(ctx, a)
	return mongoErr("assessment create", err)
}

func (r *assessmentRepoMongo) Get(ctx context.Context, subjectID int, name string) (*Assessment, error) {
	var a Assessment
	if err := r.coll.FindOne(ctx, r.key(subjectID, name)).Decode(&a); err != nil {
		return nil, mongoErr("assessment get", err)
	}
	return &a, nil
}

func (r *assessmentRepoMongo) Exists(ctx context.Context, subjectID int, name string) (bool, error) {
	ok, err := existsMongo(ctx, r.coll, r.key(subjectID, name))
	return ok, mongoErr("assessment exists", err)
}

func (r *assessmentRepoMongo) List(ctx context.Context, q Query) ([]*Assessment, int, error) {
	sort := bson.D{{Key: "subject_id", Value: 1}, {Key: "name", Value: 1}}
	items, total, err := listMongo[Assessment](ctx, r.coll, q, sort)
	return items, total, mongoErr("assessment list", err)
}

func (r *assessmentRepoMongo) Update(ctx context.Context, a *Assessment) error {
	res, err := r.coll.ReplaceOne(ctx, r.key(a.SubjectID, a.Name), a)
	if err != nil {
		return mongoErr("assessment update", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("assessment update: %w", ErrNotFound)
	}
	return nil
}

func (r *assessmentRepoMongo) Delete(ctx context.Context, subjectID int, name string) (int64, error) {
	res, err := r.coll.DeleteOne(ctx, r.key(subjectID, name))
	if err != nil {
		return 0, mongoErr("assessment delete", err)
	}
	return res.DeletedCount, nil
}

func (r *assessmentRepoMongo) DeleteBySubject(ctx context.Context, subjectID int) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{{Key: "subject_id", Value: subjectID}})
	if err != nil {
		return 0, mongoErr("assessment delete by subject", err)
	}
	return res.DeletedCount, nil
}

func (r *assessmentRepoMongo) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	return n, mongoErr("assessment count", err)
}

// -- Indicator Repository --

type indicatorRepoMongo struct {
	coll *mongo.Collection
}

func NewIndicatorRepoMongo(database *mongo.Database) IndicatorRepository {
	return &indicatorRepoMongo{coll: database.Collection(IndicatorsCollection)}
}

func (r *indicatorRepoMongo) key(subjectID int) bson.D {
	return bson.D{{Key: "subject_id", Value: subjectID}}
}

func (r *indicatorRepoMongo) Create(ctx context.Context, in *Indicator) error {
	_, err := r.coll.InsertOne(ctx, in)
	return mongoErr("indicator create", err)
}

func (r *indicatorRepoMongo) Get(ctx context.Context, subjectID int) (*Indicator, error) {
	var in Indicator
	if err := r.coll.FindOne(ctx, r.key(subjectID)).Decode(&in); err != nil {
		return nil, mongoErr("indicator get", err)
	}
	return &in, nil
}

func (r *indicatorRepoMongo) Exists(ctx context.Context, subjectID int) (bool, error) {
	ok, err := existsMongo(ctx, r.coll, r.key(subjectID))
	return ok, mongoErr("indicator exists", err)
}

func (r *indicatorRepoMongo) List(ctx context.Context, q Query) ([]*Indicator, int, error) {
	items, total, err := listMongo[Indicator](ctx, r.coll, q, bson.D{{Key: "subject_id", Value: 1}})
	return items, total, mongoErr("indicator list", err)
}

func (r *indicatorRepoMongo) Update(ctx context.Context, in *Indicator) error {
	res, err := r.coll.ReplaceOne(ctx, r.key(in.SubjectID), in)
	if err != nil {
		return mongoErr("indicator update", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("indicator update: %w", ErrNotFound)
	}
	return nil
}

func (r *indicatorRepoMongo) Delete(ctx context.Context, subjectID int) (int64, error) {
	res, err := r.coll.DeleteOne(ctx, r.key(subjectID))
	if err != nil {
		return 0, mongoErr("indicator delete", err)
	}
	return res.DeletedCount, nil
}

func (r *indicatorRepoMongo) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	return n, mongoErr("indicator count", err)
}

// -- Transactions --

type mongoTxRunner struct {
	client  *mongo.Client
	enabled bool
}

// NewMongoTxRunner runs service operations in a multi-document transaction
// when enabled. Transactions need a replica set or sharded cluster; with
// enabled false each write commits on its own.
func NewMongoTxRunner(client *mongo.Client, enabled bool) TxRunner {
	return &mongoTxRunner{client: client, enabled: enabled}
}

func (r *mongoTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.enabled || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %w", ErrStoreUnavailable, err)
	}
	defer sess.EndSession(ctx)

	var fnErr error
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(sc)
		return nil, fnErr
	})
	if err != nil && fnErr == nil {
		return fmt.Errorf("%w: commit transaction: %w", ErrStoreUnavailable, err)
	}
	if fnErr != nil {
		return fnErr
	}
	return nil
}
