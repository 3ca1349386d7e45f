package cohort

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Service implements the cohort operations over the three collections.
// Reference checks and the writes that depend on them run through the
// TxRunner; on backends without transactions they are check-then-act and a
// concurrent subject deletion can still slip in between.
type Service struct {
	subjects    SubjectRepository
	assessments AssessmentRepository
	indicators  IndicatorRepository
	tx          TxRunner
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(
	subjects SubjectRepository,
	assessments AssessmentRepository,
	indicators IndicatorRepository,
	tx TxRunner,
) *Service {
	if tx == nil {
		tx = NoTx{}
	}
	return &Service{
		subjects:    subjects,
		assessments: assessments,
		indicators:  indicators,
		tx:          tx,
		logger:      zerolog.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger attaches a logger used by long-running operations such as import.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// resolveSubject defaults a zero subject_id to the most recent subject and
// checks that the referenced subject exists.
func (s *Service) resolveSubject(ctx context.Context, subjectID *int) error {
	if *subjectID == 0 {
		maxID, err := s.subjects.MaxID(ctx)
		if err != nil {
			return err
		}
		if maxID == 0 {
			return fmt.Errorf("%w: no subjects recorded", ErrMissingReference)
		}
		*subjectID = maxID
	}
	ok, err := s.subjects.Exists(ctx, *subjectID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: subject %d", ErrMissingReference, *subjectID)
	}
	return nil
}

// -- Subject --

func (s *Service) CreateSubject(ctx context.Context, subj *Subject) error {
	if err := subj.validate(); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if subj.SubjectID == 0 {
			maxID, err := s.subjects.MaxID(ctx)
			if err != nil {
				return err
			}
			subj.SubjectID = maxID + 1
		}
		exists, err := s.subjects.Exists(ctx, subj.SubjectID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: subject %d already exists", ErrDuplicateKey, subj.SubjectID)
		}
		now := s.now()
		subj.CreatedAt, subj.UpdatedAt = now, now
		return s.subjects.Create(ctx, subj)
	})
}

func (s *Service) GetSubject(ctx context.Context, subjectID int) (*Subject, error) {
	return s.subjects.Get(ctx, subjectID)
}

func (s *Service) ReadSubjects(ctx context.Context, q Query) ([]*Subject, int, error) {
	items, total, err := s.subjects.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Subject{}
	}
	return items, total, nil
}

func (s *Service) UpdateSubject(ctx context.Context, subjectID int, p *SubjectPatch) (*Subject, error) {
	var updated *Subject
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		subj, err := s.subjects.Get(ctx, subjectID)
		if err != nil {
			return err
		}
		subj.Apply(p)
		if err := subj.validate(); err != nil {
			return err
		}
		subj.UpdatedAt = s.now()
		if err := s.subjects.Update(ctx, subj); err != nil {
			return err
		}
		updated = subj
		return nil
	})
	return updated, err
}

// DeleteSubject removes the subject and every assessment and indicator that
// references it. A subject that does not exist still has its dependents
// removed, which clears orphans left by an earlier partial cascade.
func (s *Service) DeleteSubject(ctx context.Context, subjectID int) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if res.Subjects, err = s.subjects.Delete(ctx, subjectID); err != nil {
			return err
		}
		if res.Assessments, err = s.assessments.DeleteBySubject(ctx, subjectID); err != nil {
			return err
		}
		if res.Indicators, err = s.indicators.Delete(ctx, subjectID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// -- Assessment --

func (s *Service) CreateAssessment(ctx context.Context, a *Assessment) error {
	if a.Name == "" {
		a.Name = DefaultAssessmentName
	}
	if err := a.validate(); err != nil {
		return err
	}
	a.Derive()
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.resolveSubject(ctx, &a.SubjectID); err != nil {
			return err
		}
		exists, err := s.assessments.Exists(ctx, a.SubjectID, a.Name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: assessment %q already exists for subject %d", ErrDuplicateKey, a.Name, a.SubjectID)
		}
		now := s.now()
		a.CreatedAt, a.UpdatedAt = now, now
		return s.assessments.Create(ctx, a)
	})
}

func (s *Service) GetAssessment(ctx context.Context, subjectID int, name string) (*Assessment, error) {
	return s.assessments.Get(ctx, subjectID, name)
}

func (s *Service) ReadAssessments(ctx context.Context, q Query) ([]*Assessment, int, error) {
	items, total, err := s.assessments.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Assessment{}
	}
	return items, total, nil
}

func (s *Service) UpdateAssessment(ctx context.Context, subjectID int, name string, p *AssessmentPatch) (*Assessment, error) {
	var updated *Assessment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.assessments.Get(ctx, subjectID, name)
		if err != nil {
			return err
		}
		if err := s.resolveSubject(ctx, &a.SubjectID); err != nil {
			return err
		}
		a.Apply(p)
		if err := a.validate(); err != nil {
			return err
		}
		a.Derive()
		a.UpdatedAt = s.now()
		if err := s.assessments.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	return updated, err
}

// DeleteAssessment returns the number of removed documents; zero means
// nothing matched and is not an error.
func (s *Service) DeleteAssessment(ctx context.Context, subjectID int, name string) (int64, error) {
	return s.assessments.Delete(ctx, subjectID, name)
}

// -- Indicator --

func (s *Service) CreateIndicator(ctx context.Context, in *Indicator) error {
	in.Normalize()
	if err := in.validate(); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.resolveSubject(ctx, &in.SubjectID); err != nil {
			return err
		}
		exists, err := s.indicators.Exists(ctx, in.SubjectID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: indicator already exists for subject %d", ErrDuplicateKey, in.SubjectID)
		}
		now := s.now()
		in.CreatedAt, in.UpdatedAt = now, now
		return s.indicators.Create(ctx, in)
	})
}

func (s *Service) GetIndicator(ctx context.Context, subjectID int) (*Indicator, error) {
	return s.indicators.Get(ctx, subjectID)
}

func (s *Service) ReadIndicators(ctx context.Context, q Query) ([]*Indicator, int, error) {
	items, total, err := s.indicators.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Indicator{}
	}
	return items, total, nil
}

func (s *Service) UpdateIndicator(ctx context.Context, subjectID int, p *IndicatorPatch) (*Indicator, error) {
	var updated *Indicator
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		in, err := s.indicators.Get(ctx, subjectID)
		if err != nil {
			return err
		}
		if err := s.resolveSubject(ctx, &in.SubjectID); err != nil {
			return err
		}
		in.Apply(p)
		in.Normalize()
		if err := in.validate(); err != nil {
			return err
		}
		in.UpdatedAt = s.now()
		if err := s.indicators.Update(ctx, in); err != nil {
			return err
		}
		updated = in
		return nil
	})
	return updated, err
}

func (s *Service) DeleteIndicator(ctx context.Context, subjectID int) (int64, error) {
	return s.indicators.Delete(ctx, subjectID)
}

// -- Join --

// JoinAssessments attaches the subject and indicator records to every
// assessment matching the optional subject filter. An empty result means
// nothing matched.
func (s *Service) JoinAssessments(ctx context.Context, subjectID *int) ([]*JoinedAssessment, error) {
	assessments, _, err := s.assessments.List(ctx, Query{SubjectID: subjectID})
	if err != nil {
		return nil, err
	}

	subjectsByID := make(map[int][]*Subject)
	indicatorsByID := make(map[int][]*Indicator)
	joined := make([]*JoinedAssessment, 0, len(assessments))
	for _, a := range assessments {
		id := a.SubjectID
		subs, ok := subjectsByID[id]
		if !ok {
			if subs, _, err = s.subjects.List(ctx, Query{SubjectID: &id}); err != nil {
				return nil, err
			}
			if subs == nil {
				subs = []*Subject{}
			}
			subjectsByID[id] = subs
		}
		inds, ok := indicatorsByID[id]
		if !ok {
			if inds, _, err = s.indicators.List(ctx, Query{SubjectID: &id}); err != nil {
				return nil, err
			}
			if inds == nil {
				inds = []*Indicator{}
			}
			indicatorsByID[id] = inds
		}
		joined = append(joined, &JoinedAssessment{Assessment: a, Subjects: subs, Indicators: inds})
	}
	return joined, nil
}
