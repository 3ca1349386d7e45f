package cohort

import "context"

// Repositories return ErrNotFound, ErrDuplicateKey or ErrStoreUnavailable
// (wrapped) so the service can classify failures without knowing the backend.

type SubjectRepository interface {
	Create(ctx context.Context, s *Subject) error
	Get(ctx context.Context, subjectID int) (*Subject, error)
	// Exists locks the row for the rest of the enclosing transaction on
	// backends that support it.
	Exists(ctx context.Context, subjectID int) (bool, error)
	MaxID(ctx context.Context) (int, error)
	List(ctx context.Context, q Query) ([]*Subject, int, error)
	Update(ctx context.Context, s *Subject) error
	Delete(ctx context.Context, subjectID int) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type AssessmentRepository interface {
	Create(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, subjectID int, name string) (*Assessment, error)
	Exists(ctx context.Context, subjectID int, name string) (bool, error)
	List(ctx context.Context, q Query) ([]*Assessment, int, error)
	Update(ctx context.Context, a *Assessment) error
	Delete(ctx context.Context, subjectID int, name string) (int64, error)
	DeleteBySubject(ctx context.Context, subjectID int) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type IndicatorRepository interface {
	Create(ctx context.Context, in *Indicator) error
	Get(ctx context.Context, subjectID int) (*Indicator, error)
	Exists(ctx context.Context, subjectID int) (bool, error)
	List(ctx context.Context, q Query) ([]*Indicator, int, error)
	Update(ctx context.Context, in *Indicator) error
	Delete(ctx context.Context, subjectID int) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// TxRunner runs fn so that repository calls made with the context it receives
// share one transaction when the backend provides one. Nested calls join the
// outer transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. Writes inside fn are committed one at a time.
type NoTx struct{}

func (NoTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
