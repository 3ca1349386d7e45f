package cohort

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurobd/neurobd/internal/platform/db"
)

// Documents are stored whole in a JSONB column; the natural key columns
// alongside them carry the primary keys.

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func pgConn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// storeErr maps driver errors onto the package sentinels.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// lockClause takes a share lock on the checked row when running inside a
// transaction so a concurrent delete waits for the dependent write.
func lockClause(ctx context.Context) string {
	if db.TxFromContext(ctx) != nil {
		return " FOR SHARE"
	}
	return ""
}

func queryExists(ctx context.Context, q querier, sql string, args ...interface{}) (bool, error) {
	var one int
	err := q.QueryRow(ctx, sql+lockClause(ctx), args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// listDocs reads the doc column of table filtered by q, ordered by orderBy.
func listDocs[T any](ctx context.Context, conn querier, table, orderBy string, q Query) ([]*T, int, error) {
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}

	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE ($1::int IS NULL OR subject_id = $1)`, table)
	if err := conn.QueryRow(ctx, countSQL, q.SubjectID).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := fmt.Sprintf(`SELECT doc FROM %s WHERE ($1::int IS NULL OR subject_id = $1) ORDER BY %s LIMIT $2 OFFSET $3`,
		table, orderBy)
	rows, err := conn.Query(ctx, dataSQL, q.SubjectID, limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		doc := new(T)
		if err := rows.Scan(doc); err != nil {
			return nil, 0, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func countRows(ctx context.Context, conn querier, table string) (int64, error) {
	var n int64
	err := conn.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

// -- Subject Repository --

type subjectRepoPG struct {
	pool *pgxpool.Pool
}

func NewSubjectRepoPG(pool *pgxpool.Pool) SubjectRepository {
	return &subjectRepoPG{pool: pool}
}

func (r *subjectRepoPG) conn(ctx context.Context) querier { return pgConn(ctx, r.pool) }

func (r *subjectRepoPG) Create(ctx context.Context, s *Subject) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO subjects (subject_id, doc) VALUES ($1, $2)`, s.SubjectID, s)
	return storeErr("subject create", err)
}

func (r *subjectRepoPG) Get(ctx context.Context, subjectID int) (*Subject, error) {
	var s Subject
	err := r.conn(ctx).QueryRow(ctx, `SELECT doc FROM subjects WHERE subject_id = $1`, subjectID).Scan(&s)
	if err != nil {
		return nil, storeErr("subject get", err)
	}
	return &s, nil
}

func (r *subjectRepoPG) Exists(ctx context.Context, subjectID int) (bool, error) {
	ok, err := queryExists(ctx, r.conn(ctx), `SELECT 1 FROM subjects WHERE subject_id = $1`, subjectID)
	return ok, storeErr("subject exists", err)
}

func (r *subjectRepoPG) MaxID(ctx context.Context) (int, error) {
	var maxID int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(subject_id), 0) FROM subjects`).Scan(&maxID)
	return maxID, storeErr("subject max id", err)
}

func (r *subjectRepoPG) List(ctx context.Context, q Query) ([]*Subject, int, error) {
	items, total, err := listDocs[Subject](ctx, r.conn(ctx), SubjectsCollection, "subject_id", q)
	return items, total, storeErr("subject list", err)
}

func (r *subjectRepoPG) Update(ctx context.Context, s *Subject) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE subjects SET doc = $2 WHERE subject_id = $1`, s.SubjectID, s)
	if err != nil {
		return storeErr("subject update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject update: %w", ErrNotFound)
	}
	return nil
}

func (r *subjectRepoPG) Delete(ctx context.Context, subjectID int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM subjects WHERE subject_id = $1`, subjectID)
	if err != nil {
		return 0, storeErr("subject delete", err)
	}
	return tag.RowsAffected(), nil
}

func (r *subjectRepoPG) Count(ctx context.Context) (int64, error) {
	n, err := countRows(ctx, r.conn(ctx), SubjectsCollection)
	return n, storeErr("subject count", err)
}

// -- Assessment Repository --

type assessmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

func (r *assessmentRepoPG) conn(ctx context.Context) querier { return pgConn(ctx, r.pool) }

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO assessments (subject_id, name, doc) VALUES ($1, $2, $3)`, a.SubjectID, a.Name, a)
	return storeErr("assessment create", err)
}

func (r *assessmentRepoPG) Get(ctx context.Context, subjectID int, name string) (*Assessment, error) {
	var a Assessment
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT doc FROM assessments WHERE subject_id = $1 AND name = $2`, subjectID, name).Scan(&a)
	if err != nil {
		return nil, storeErr("assessment get", err)
	}
	return &a, nil
}

func (r *assessmentRepoPG) Exists(ctx context.Context, subjectID int, name string) (bool, error) {
	ok, err := queryExists(ctx, r.conn(ctx),
		`SELECT 1 FROM assessments WHERE subject_id = $1 AND name = $2`, subjectID, name)
	return ok, storeErr("assessment exists", err)
}

func (r *assessmentRepoPG) List(ctx context.Context, q Query) ([]*Assessment, int, error) {
	items, total, err := listDocs[Assessment](ctx, r.conn(ctx), AssessmentsCollection, "subject_id, name", q)
	return items, total, storeErr("assessment list", err)
}

func (r *assessmentRepoPG) Update(ctx context.Context, a *Assessment) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE assessments SET doc = $3 WHERE subject_id = $1 AND name = $2`, a.SubjectID, a.Name, a)
	if err != nil {
		return storeErr("assessment update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment update: %w", ErrNotFound)
	}
	return nil
}

func (r *assessmentRepoPG) Delete(ctx context.Context, subjectID int, name string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM assessments WHERE subject_id = $1 AND name = $2`, subjectID, name)
	if err != nil {
		return 0, storeErr("assessment delete", err)
	}
	return tag.RowsAffected(), nil
}

func (r *assessmentRepoPG) DeleteBySubject(ctx context.Context, subjectID int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM assessments WHERE subject_id = $1`, subjectID)
	if err != nil {
		return 0, storeErr("assessment delete by subject", err)
	}
	return tag.RowsAffected(), nil
}

func (r *assessmentRepoPG) Count(ctx context.Context) (int64, error) {
	n, err := countRows(ctx, r.conn(ctx), AssessmentsCollection)
	return n, storeErr("assessment count", err)
}

// -- Indicator Repository --

type indicatorRepoPG struct {
	pool *pgxpool.Pool
}

func NewIndicatorRepoPG(pool *pgxpool.Pool) IndicatorRepository {
	return &indicatorRepoPG{pool: pool}
}

func (r *indicatorRepoPG) conn(ctx context.Context) querier { return pgConn(ctx, r.pool) }

func (r *indicatorRepoPG) Create(ctx context.Context, in *Indicator) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO indicators (subject_id, doc) VALUES ($1, $2)`, in.SubjectID, in)
	return storeErr("indicator create", err)
}

func (r *indicatorRepoPG) Get(ctx context.Context, subjectID int) (*Indicator, error) {
	var in Indicator
	err := r.conn(ctx).QueryRow(ctx, `SELECT doc FROM indicators WHERE subject_id = $1`, subjectID).Scan(&in)
	if err != nil {
		return nil, storeErr("indicator get", err)
	}
	return &in, nil
}

func (r *indicatorRepoPG) Exists(ctx context.Context, subjectID int) (bool, error) {
	ok, err := queryExists(ctx, r.conn(ctx), `SELECT 1 FROM indicators WHERE subject_id = $1`, subjectID)
	return ok, storeErr("indicator exists", err)
}

func (r *indicatorRepoPG) List(ctx context.Context, q Query) ([]*Indicator, int, error) {
	items, total, err := listDocs[Indicator](ctx, r.conn(ctx), IndicatorsCollection, "subject_id", q)
	return items, total, storeErr("indicator list", err)
}

func (r *indicatorRepoPG) Update(ctx context.Context, in *Indicator) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE indicators SET doc = $2 WHERE subject_id = $1`, in.SubjectID, in)
	if err != nil {
		return storeErr("indicator update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("indicator update: %w", ErrNotFound)
	}
	return nil
}

func (r *indicatorRepoPG) Delete(ctx context.Context, subjectID int) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM indicators WHERE subject_id = $1`, subjectID)
	if err != nil {
		return 0, storeErr("indicator delete", err)
	}
	return tag.RowsAffected(), nil
}

func (r *indicatorRepoPG) Count(ctx context.Context) (int64, error) {
	n, err := countRows(ctx, r.conn(ctx), IndicatorsCollection)
	return n, storeErr("indicator count", err)
}

// -- Transactions --

type pgTxRunner struct {
	pool *pgxpool.Pool
}

// NewPGTxRunner runs service operations in a Postgres transaction.
func NewPGTxRunner(pool *pgxpool.Pool) TxRunner {
	return &pgTxRunner{pool: pool}
}

func (r *pgTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		fnErr = fn(ctx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
