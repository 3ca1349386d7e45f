// Package scoring turns SNAP-IV questionnaire responses into severity and
// diagnosis labels.
package scoring

// ItemsPerDomain is the number of questionnaire items in each SNAP-IV domain.
const ItemsPerDomain = 9

// Item response bounds.
const (
	MinItemValue = 0
	MaxItemValue = 3
)

// DiagnosisThreshold is the per-axis score at or above which the axis counts
// towards a diagnosis.
const DiagnosisThreshold = 18

// Severity is the clinical-significance tier of a domain score.
type Severity string

const (
	SeverityNotSignificant Severity = "not clinically significant"
	SeverityMild           Severity = "mild"
	SeverityModerate       Severity = "moderate"
	SeveritySevere         Severity = "severe"
)

// Diagnosis is the four-way ADHD presentation label.
type Diagnosis string

const (
	DiagnosisNone        Diagnosis = "No ADHD"
	DiagnosisInattentive Diagnosis = "Inattentive type"
	DiagnosisHyperactive Diagnosis = "Hyperactive-Impulsive type"
	DiagnosisCombined    Diagnosis = "Hyperactive and Inattentive type"
)

// ClassifyScore maps a domain score to a severity tier. It accepts any
// integer, including values outside the 0-27 questionnaire range.
func ClassifyScore(score int) Severity {
	switch {
	case score < 13:
		return SeverityNotSignificant
	case score <= 17:
		return SeverityMild
	case score <= 22:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// DiagnosisFromCode maps the dataset's categorical diagnosis code. Codes
// other than 0, 1 and 2 all fall through to the combined presentation.
func DiagnosisFromCode(code int) Diagnosis {
	switch code {
	case 0:
		return DiagnosisNone
	case 1:
		return DiagnosisInattentive
	case 2:
		return DiagnosisHyperactive
	default:
		return DiagnosisCombined
	}
}

// DiagnosisFromScores applies DiagnosisThreshold to each axis independently.
func DiagnosisFromScores(inattention, hyperactivity int) Diagnosis {
	in := inattention >= DiagnosisThreshold
	hy := hyperactivity >= DiagnosisThreshold
	switch {
	case in && hy:
		return DiagnosisCombined
	case in:
		return DiagnosisInattentive
	case hy:
		return DiagnosisHyperactive
	default:
		return DiagnosisNone
	}
}

// SumItems returns the domain score for a set of item responses.
func SumItems(items [ItemsPerDomain]int) int {
	total := 0
	for _, v := range items {
		total += v
	}
	return total
}

// ValidItem reports whether v is an allowed item response.
func ValidItem(v int) bool {
	return v >= MinItemValue && v <= MaxItemValue
}
