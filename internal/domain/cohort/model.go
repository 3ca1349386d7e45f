package cohort

import (
	"encoding/json"
	"math"
	"time"

	"github.com/neurobd/neurobd/internal/domain/scoring"
)

// Collection names shared by every storage backend.
const (
	SubjectsCollection    = "subjects"
	AssessmentsCollection = "assessments"
	IndicatorsCollection  = "indicators"
)

// DefaultAssessmentName is the questionnaire recorded by the dataset import.
const DefaultAssessmentName = "SNAP-IV"

var validFamilyHistory = map[string]bool{
	"No": true, "Yes": true, "Unknown": true,
}

// Subject is one research participant.
type Subject struct {
	SubjectID        int       `json:"subject_id" bson:"subject_id"`
	Age              int       `json:"age" bson:"age"`
	Gender           int       `json:"gender" bson:"gender"`
	EducationalLevel string    `json:"educational_level" bson:"educational_level"`
	FamilyHistory    string    `json:"family_history" bson:"family_history"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// SubjectPatch names the Subject fields an update may change. Nil fields are
// left untouched.
type SubjectPatch struct {
	Age              *int    `json:"age,omitempty"`
	Gender           *int    `json:"gender,omitempty"`
	EducationalLevel *string `json:"educational_level,omitempty"`
	FamilyHistory    *string `json:"family_history,omitempty"`
}

func (s *Subject) Apply(p *SubjectPatch) {
	if p == nil {
		return
	}
	if p.Age != nil {
		s.Age = *p.Age
	}
	if p.Gender != nil {
		s.Gender = *p.Gender
	}
	if p.EducationalLevel != nil {
		s.EducationalLevel = *p.EducationalLevel
	}
	if p.FamilyHistory != nil {
		s.FamilyHistory = *p.FamilyHistory
	}
}

func (s *Subject) validate() error {
	if s.SubjectID < 0 {
		return validationErr("subject_id must not be negative")
	}
	if s.Age < 0 {
		return validationErr("age must not be negative")
	}
	if s.EducationalLevel == "" {
		return validationErr("educational_level is required")
	}
	if !validFamilyHistory[s.FamilyHistory] {
		return validationErr("family_history must be one of No, Yes, Unknown, got %q", s.FamilyHistory)
	}
	return nil
}

// Items holds the nine responses of one SNAP-IV domain.
type Items [scoring.ItemsPerDomain]int

// UnmarshalJSON requires exactly nine responses.
func (it *Items) UnmarshalJSON(b []byte) error {
	var vals []int
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	if len(vals) != scoring.ItemsPerDomain {
		return validationErr("expected %d item responses, got %d", scoring.ItemsPerDomain, len(vals))
	}
	copy(it[:], vals)
	return nil
}

// Assessment is one named questionnaire result for a subject. The score,
// severity and diagnosis fields are derived and are overwritten by Derive.
type Assessment struct {
	SubjectID                 int               `json:"subject_id" bson:"subject_id"`
	Name                      string            `json:"name" bson:"name"`
	InattentionItems          Items             `json:"inattention_items" bson:"inattention_items"`
	HyperactivityItems        Items             `json:"hyperactivity_items" bson:"hyperactivity_items"`
	InattentionScore          int               `json:"inattention_score" bson:"inattention_score"`
	HyperactivityScore        int               `json:"hyperactivity_score" bson:"hyperactivity_score"`
	InattentionSeverity       scoring.Severity  `json:"inattention_severity" bson:"inattention_severity"`
	HyperactivitySeverity     scoring.Severity  `json:"hyperactivity_severity" bson:"hyperactivity_severity"`
	DiagnosisCode             *int              `json:"diagnosis_code,omitempty" bson:"diagnosis_code,omitempty"`
	DiagnosisClass            scoring.Diagnosis `json:"Diagnosis_Class" bson:"Diagnosis_Class"`
	FocusScoreVideo           float64           `json:"Focus_Score_Video" bson:"Focus_Score_Video"`
	DifficultyOrganizingTasks int               `json:"Difficulty_Organizing_Tasks" bson:"Difficulty_Organizing_Tasks"`
	LearningDifficulties      int               `json:"Learning_Difficulties" bson:"Learning_Difficulties"`
	AnxietyDepressionLevels   int               `json:"Anxiety_Depression_Levels" bson:"Anxiety_Depression_Levels"`
	CreatedAt                 time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at" bson:"updated_at"`
}

// AssessmentPatch names the raw Assessment inputs an update may change. The
// natural key (subject_id, name) is immutable.
type AssessmentPatch struct {
	InattentionItems          *Items   `json:"inattention_items,omitempty"`
	HyperactivityItems        *Items   `json:"hyperactivity_items,omitempty"`
	DiagnosisCode             *int     `json:"diagnosis_code,omitempty"`
	FocusScoreVideo           *float64 `json:"Focus_Score_Video,omitempty"`
	DifficultyOrganizingTasks *int     `json:"Difficulty_Organizing_Tasks,omitempty"`
	LearningDifficulties      *int     `json:"Learning_Difficulties,omitempty"`
	AnxietyDepressionLevels   *int     `json:"Anxiety_Depression_Levels,omitempty"`
}

func (a *Assessment) Apply(p *AssessmentPatch) {
	if p == nil {
		return
	}
	if p.InattentionItems != nil {
		a.InattentionItems = *p.InattentionItems
	}
	if p.HyperactivityItems != nil {
		a.HyperactivityItems = *p.HyperactivityItems
	}
	if p.DiagnosisCode != nil {
		code := *p.DiagnosisCode
		a.DiagnosisCode = &code
	}
	if p.FocusScoreVideo != nil {
		a.FocusScoreVideo = *p.FocusScoreVideo
	}
	if p.DifficultyOrganizingTasks != nil {
		a.DifficultyOrganizingTasks = *p.DifficultyOrganizingTasks
	}
	if p.LearningDifficulties != nil {
		a.LearningDifficulties = *p.LearningDifficulties
	}
	if p.AnxietyDepressionLevels != nil {
		a.AnxietyDepressionLevels = *p.AnxietyDepressionLevels
	}
}

// Derive recomputes every derived field from the raw item responses and the
// optional source diagnosis code.
func (a *Assessment) Derive() {
	a.InattentionScore = scoring.SumItems(a.InattentionItems)
	a.HyperactivityScore = scoring.SumItems(a.HyperactivityItems)
	a.InattentionSeverity = scoring.ClassifyScore(a.InattentionScore)
	a.HyperactivitySeverity = scoring.ClassifyScore(a.HyperactivityScore)
	if a.DiagnosisCode != nil {
		a.DiagnosisClass = scoring.DiagnosisFromCode(*a.DiagnosisCode)
	} else {
		a.DiagnosisClass = scoring.DiagnosisFromScores(a.InattentionScore, a.HyperactivityScore)
	}
}

func (a *Assessment) validate() error {
	if a.SubjectID < 0 {
		return validationErr("subject_id must not be negative")
	}
	if a.Name == "" {
		return validationErr("name is required")
	}
	for i, v := range a.InattentionItems {
		if !scoring.ValidItem(v) {
			return validationErr("inattention item %d must be between %d and %d, got %d",
				i+1, scoring.MinItemValue, scoring.MaxItemValue, v)
		}
	}
	for i, v := range a.HyperactivityItems {
		if !scoring.ValidItem(v) {
			return validationErr("hyperactivity item %d must be between %d and %d, got %d",
				i+1, scoring.MinItemValue, scoring.MaxItemValue, v)
		}
	}
	return nil
}

// Indicator holds the lifestyle metrics recorded for a subject.
type Indicator struct {
	SubjectID                 int       `json:"subject_id" bson:"subject_id"`
	SleepHours                float64   `json:"Sleep_Hours" bson:"Sleep_Hours"`
	DailyActivityHours        float64   `json:"Daily_Activity_Hours" bson:"Daily_Activity_Hours"`
	DailyPhoneUsageHours      float64   `json:"Daily_Phone_Usage_Hours" bson:"Daily_Phone_Usage_Hours"`
	DailyCoffeeTeaConsumption float64   `json:"Daily_Coffee_Tea_Consumption" bson:"Daily_Coffee_Tea_Consumption"`
	DailyWalkingRunningHours  float64   `json:"Daily_Walking_Running_Hours" bson:"Daily_Walking_Running_Hours"`
	CreatedAt                 time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at" bson:"updated_at"`
}

// IndicatorPatch names the Indicator fields an update may change.
type IndicatorPatch struct {
	SleepHours                *float64 `json:"Sleep_Hours,omitempty"`
	DailyActivityHours        *float64 `json:"Daily_Activity_Hours,omitempty"`
	DailyPhoneUsageHours      *float64 `json:"Daily_Phone_Usage_Hours,omitempty"`
	DailyCoffeeTeaConsumption *float64 `json:"Daily_Coffee_Tea_Consumption,omitempty"`
	DailyWalkingRunningHours  *float64 `json:"Daily_Walking_Running_Hours,omitempty"`
}

func (in *Indicator) Apply(p *IndicatorPatch) {
	if p == nil {
		return
	}
	if p.SleepHours != nil {
		in.SleepHours = *p.SleepHours
	}
	if p.DailyActivityHours != nil {
		in.DailyActivityHours = *p.DailyActivityHours
	}
	if p.DailyPhoneUsageHours != nil {
		in.DailyPhoneUsageHours = *p.DailyPhoneUsageHours
	}
	if p.DailyCoffeeTeaConsumption != nil {
		in.DailyCoffeeTeaConsumption = *p.DailyCoffeeTeaConsumption
	}
	if p.DailyWalkingRunningHours != nil {
		in.DailyWalkingRunningHours = *p.DailyWalkingRunningHours
	}
}

// Normalize rounds the walking/running hours to one decimal place.
func (in *Indicator) Normalize() {
	in.DailyWalkingRunningHours = roundTenth(in.DailyWalkingRunningHours)
}

func (in *Indicator) validate() error {
	if in.SubjectID < 0 {
		return validationErr("subject_id must not be negative")
	}
	fields := map[string]float64{
		"Sleep_Hours":                  in.SleepHours,
		"Daily_Activity_Hours":         in.DailyActivityHours,
		"Daily_Phone_Usage_Hours":      in.DailyPhoneUsageHours,
		"Daily_Coffee_Tea_Consumption": in.DailyCoffeeTeaConsumption,
		"Daily_Walking_Running_Hours":  in.DailyWalkingRunningHours,
	}
	for name, v := range fields {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return validationErr("%s must be a non-negative number", name)
		}
	}
	return nil
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// JoinedAssessment is an assessment with its subject and indicator records
// attached. Either list is empty when no matching record exists.
type JoinedAssessment struct {
	*Assessment
	Subjects   []*Subject   `json:"subjects"`
	Indicators []*Indicator `json:"indicators"`
}

// Query filters a collection read. A zero Limit returns every match.
type Query struct {
	SubjectID *int
	Limit     int
	Offset    int
}

// DeleteResult counts the documents removed by a subject deletion.
type DeleteResult struct {
	Subjects    int64 `json:"subjects"`
	Assessments int64 `json:"assessments"`
	Indicators  int64 `json:"indicators"`
}
