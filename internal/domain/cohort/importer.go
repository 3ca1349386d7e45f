package cohort

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/neurobd/neurobd/internal/domain/scoring"
	"github.com/neurobd/neurobd/internal/platform/dataset"
)

// Dataset column names read by the importer.
const (
	ColAge                       = "Age"
	ColGender                    = "Gender"
	ColEducationalLevel          = "Educational_Level"
	ColFamilyHistory             = "Family_History"
	ColFocusScoreVideo           = "Focus_Score_Video"
	ColDifficultyOrganizingTasks = "Difficulty_Organizing_Tasks"
	ColLearningDifficulties      = "Learning_Difficulties"
	ColAnxietyDepressionLevels   = "Anxiety_Depression_Levels"
	ColSleepHours                = "Sleep_Hours"
	ColDailyActivityHours        = "Daily_Activity_Hours"
	ColDailyPhoneUsageHours      = "Daily_Phone_Usage_Hours"
	ColDailyCoffeeTeaConsumption = "Daily_Coffee_Tea_Consumption"
	ColDailyWalkingRunningHours  = "Daily_Walking_Running_Hours"
	ColDiagnosisClass            = "Diagnosis_Class"
)

// InattentionColumn returns the dataset column of inattention item n (1-based).
func InattentionColumn(n int) string { return fmt.Sprintf("Q1_%d", n) }

// HyperactivityColumn returns the dataset column of hyperactivity item n (1-based).
func HyperactivityColumn(n int) string { return fmt.Sprintf("Q2_%d", n) }

// RequiredColumns lists the header columns every dataset must carry.
// Diagnosis_Class is optional.
func RequiredColumns() []string {
	cols := []string{
		ColAge, ColGender, ColEducationalLevel, ColFamilyHistory,
		ColFocusScoreVideo, ColDifficultyOrganizingTasks, ColLearningDifficulties,
		ColAnxietyDepressionLevels, ColSleepHours, ColDailyActivityHours,
		ColDailyPhoneUsageHours, ColDailyCoffeeTeaConsumption, ColDailyWalkingRunningHours,
	}
	for n := 1; n <= scoring.ItemsPerDomain; n++ {
		cols = append(cols, InattentionColumn(n), HyperactivityColumn(n))
	}
	return cols
}

// ImportReport summarizes one import run.
type ImportReport struct {
	RunID               string `json:"run_id"`
	Rows                int    `json:"rows"`
	SubjectsInserted    int    `json:"subjects_inserted"`
	AssessmentsInserted int    `json:"assessments_inserted"`
	IndicatorsInserted  int    `json:"indicators_inserted"`
	Skipped             bool   `json:"skipped"`
}

// ImportOptions tunes an import run. Force bypasses the populated fast path so
// an interrupted run that left every collection non-empty can be resumed.
type ImportOptions struct {
	Force bool
}

// importRecord is one dataset row parsed into the three documents it yields.
type importRecord struct {
	subject    Subject
	assessment Assessment
	indicator  Indicator
}

// ImportDataset loads rows into the three collections, inserting only the
// documents that are absent. Row idx becomes subject idx+1. Unless opts.Force
// is set, the run is skipped when every collection already holds data.
//
// A malformed row aborts the run with a *MalformedRowError before any of that
// row is written. Rows written earlier in the run stay committed.
func (s *Service) ImportDataset(ctx context.Context, rows []dataset.Row, opts ImportOptions) (*ImportReport, error) {
	report := &ImportReport{RunID: uuid.New().String()}
	log := s.logger.With().Str("run_id", report.RunID).Logger()

	if !opts.Force {
		populated, err := s.allPopulated(ctx)
		if err != nil {
			return nil, err
		}
		if populated {
			report.Skipped = true
			log.Info().Msg("all collections populated, skipping import")
			return report, nil
		}
	}

	log.Info().Int("rows", len(rows)).Msg("import started")
	for idx, row := range rows {
		rec, err := parseRow(row, idx+1)
		if err != nil {
			log.Error().Err(err).Int("row", idx+1).Msg("import aborted")
			return report, err
		}
		if err := s.importRecord(ctx, rec, report); err != nil {
			log.Error().Err(err).Int("row", idx+1).Msg("import aborted")
			return report, fmt.Errorf("import row %d: %w", idx+1, err)
		}
		report.Rows++
	}

	log.Info().
		Int("rows", report.Rows).
		Int("subjects", report.SubjectsInserted).
		Int("assessments", report.AssessmentsInserted).
		Int("indicators", report.IndicatorsInserted).
		Msg("import finished")
	return report, nil
}

// ImportTable checks the header for every required column, then imports the
// rows. A missing column fails the run before anything is read or written.
func (s *Service) ImportTable(ctx context.Context, table *dataset.Table, opts ImportOptions) (*ImportReport, error) {
	for _, col := range RequiredColumns() {
		if !table.HasColumn(col) {
			return nil, &MalformedRowError{Column: col, Err: errMissingColumn}
		}
	}
	return s.ImportDataset(ctx, table.Rows, opts)
}

func (s *Service) allPopulated(ctx context.Context) (bool, error) {
	counts := []func(context.Context) (int64, error){
		s.subjects.Count,
		s.assessments.Count,
		s.indicators.Count,
	}
	for _, count := range counts {
		n, err := count(ctx)
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// importRecord writes the missing documents of one row in a single transaction
// where the backend supports it.
func (s *Service) importRecord(ctx context.Context, rec *importRecord, report *ImportReport) error {
	var subjects, assessments, indicators int
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		subjects, assessments, indicators = 0, 0, 0
		id := rec.subject.SubjectID
		now := s.now()

		exists, err := s.subjects.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			rec.subject.CreatedAt, rec.subject.UpdatedAt = now, now
			if err := s.subjects.Create(ctx, &rec.subject); err != nil {
				return err
			}
			subjects++
		}

		exists, err = s.assessments.Exists(ctx, id, rec.assessment.Name)
		if err != nil {
			return err
		}
		if !exists {
			rec.assessment.CreatedAt, rec.assessment.UpdatedAt = now, now
			if err := s.assessments.Create(ctx, &rec.assessment); err != nil {
				return err
			}
			assessments++
		}

		exists, err = s.indicators.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			rec.indicator.CreatedAt, rec.indicator.UpdatedAt = now, now
			if err := s.indicators.Create(ctx, &rec.indicator); err != nil {
				return err
			}
			indicators++
		}
		return nil
	})
	if err != nil {
		return err
	}
	report.SubjectsInserted += subjects
	report.AssessmentsInserted += assessments
	report.IndicatorsInserted += indicators
	return nil
}

// parseRow converts a dataset row into the documents it produces. rowNum is
// the 1-based data row number and doubles as the subject id.
func parseRow(row dataset.Row, rowNum int) (*importRecord, error) {
	p := rowParser{row: row, rowNum: rowNum}

	rec := &importRecord{}
	rec.subject = Subject{
		SubjectID:        rowNum,
		Age:              p.integer(ColAge),
		Gender:           p.integer(ColGender),
		EducationalLevel: p.text(ColEducationalLevel),
		FamilyHistory:    p.text(ColFamilyHistory),
	}

	a := Assessment{
		SubjectID:                 rowNum,
		Name:                      DefaultAssessmentName,
		FocusScoreVideo:           p.number(ColFocusScoreVideo),
		DifficultyOrganizingTasks: p.integer(ColDifficultyOrganizingTasks),
		LearningDifficulties:      p.integer(ColLearningDifficulties),
		AnxietyDepressionLevels:   p.integer(ColAnxietyDepressionLevels),
	}
	for i := range a.InattentionItems {
		a.InattentionItems[i] = p.integer(InattentionColumn(i + 1))
	}
	for i := range a.HyperactivityItems {
		a.HyperactivityItems[i] = p.integer(HyperactivityColumn(i + 1))
	}
	if _, ok := row.Value(ColDiagnosisClass); ok {
		code := p.integer(ColDiagnosisClass)
		a.DiagnosisCode = &code
	}

	in := Indicator{
		SubjectID:                 rowNum,
		SleepHours:                p.number(ColSleepHours),
		DailyActivityHours:        p.number(ColDailyActivityHours),
		DailyPhoneUsageHours:      p.number(ColDailyPhoneUsageHours),
		DailyCoffeeTeaConsumption: p.number(ColDailyCoffeeTeaConsumption),
		DailyWalkingRunningHours:  p.number(ColDailyWalkingRunningHours),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := rec.subject.validate(); err != nil {
		return nil, &MalformedRowError{Row: rowNum, Err: err}
	}
	if err := a.validate(); err != nil {
		return nil, &MalformedRowError{Row: rowNum, Err: err}
	}
	a.Derive()
	in.Normalize()
	if err := in.validate(); err != nil {
		return nil, &MalformedRowError{Row: rowNum, Err: err}
	}
	rec.assessment = a
	rec.indicator = in
	return rec, nil
}

var (
	errMissingValue  = errors.New("missing value")
	errMissingColumn = errors.New("missing column")
)

// maxExactInt is the largest magnitude a float64 holds without losing
// integer precision.
const maxExactInt = 1 << 53

// rowParser records the first conversion failure and turns later calls into
// no-ops so a row can be decoded field by field without checking each result.
type rowParser struct {
	row    dataset.Row
	rowNum int
	err    error
}

func (p *rowParser) fail(column string, err error) {
	if p.err == nil {
		p.err = &MalformedRowError{Row: p.rowNum, Column: column, Err: err}
	}
}

func (p *rowParser) text(column string) string {
	if p.err != nil {
		return ""
	}
	v, ok := p.row.Value(column)
	if !ok {
		p.fail(column, errMissingValue)
		return ""
	}
	return v
}

// integer accepts integral decimals such as "3.0", which spreadsheet exports
// produce for integer columns.
func (p *rowParser) integer(column string) int {
	v := p.text(column)
	if p.err != nil {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		p.fail(column, fmt.Errorf("expected an integer, got %q", v))
		return 0
	}
	if f > maxExactInt || f < -maxExactInt {
		p.fail(column, fmt.Errorf("integer %q out of range", v))
		return 0
	}
	return int(f)
}

func (p *rowParser) number(column string) float64 {
	v := p.text(column)
	if p.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(column, fmt.Errorf("expected a number, got %q", v))
		return 0
	}
	return f
}
