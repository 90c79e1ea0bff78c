package urgency

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decode unmarshals a payload and reports syntax problems as a validation
// error on the payload itself.
func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return invalid("payload", fmt.Sprintf("is not valid JSON: %v", err))
	}
	return nil
}

// within rejects v outside [lo, hi].
func within(field string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return invalid(field, fmt.Sprintf("must be within %g..%g, got %g", lo, hi, v))
	}
	return nil
}

// checkConfidence rejects a reported confidence outside 0..1.
func checkConfidence(c *float64) error {
	if c == nil {
		return nil
	}
	return within("confidence", *c, 0, 1)
}

// confidenceOr returns *c or def when the detector did not report one.
func confidenceOr(c *float64, def float64) float64 {
	if c == nil {
		return def
	}
	return *c
}

// RespiratoryPayload is emitted by the imaging risk detector.
type RespiratoryPayload struct {
	RiskProbability *float64 `json:"risk_probability"`
	Confidence      *float64 `json:"confidence"`
	Findings        []string `json:"findings"`
	CriticalFinding bool     `json:"critical_finding"`
}

// RespiratoryAdapter scales the imaging risk probability to 0-10.
type RespiratoryAdapter struct{}

func (RespiratoryAdapter) Domain() Domain { return DomainRespiratory }

func (RespiratoryAdapter) Map(raw json.RawMessage) (Mapped, error) {
	var p RespiratoryPayload
	if err := decode(raw, &p); err != nil {
		return Mapped{}, err
	}
	if p.RiskProbability == nil {
		return Mapped{}, missing("risk_probability")
	}
	if err := within("risk_probability", *p.RiskProbability, 0, 1); err != nil {
		return Mapped{}, err
	}
	if err := checkConfidence(p.Confidence); err != nil {
		return Mapped{}, err
	}

	prob := *p.RiskProbability
	rationale := append([]string(nil), p.Findings...)
	if len(rationale) == 0 {
		rationale = append(rationale, fmt.Sprintf("imaging risk probability %.2f", prob))
	}
	if p.CriticalFinding {
		rationale = append(rationale, "critical imaging finding flagged")
	}

	return Mapped{
		Raw:        prob,
		Score:      prob * 10,
		Confidence: confidenceOr(p.Confidence, prob),
		Rationale:  rationale,
		RedFlag:    p.CriticalFinding,
	}, nil
}

// Interaction is one drug-drug interaction reported by the medication detector.
type Interaction struct {
	Drugs    []string `json:"drugs"`
	Severity string   `json:"severity"`
}

// MedicationPayload is emitted by the medication-safety detector.
type MedicationPayload struct {
	Interactions    *[]Interaction `json:"interactions"`
	AllergyConflict bool           `json:"allergy_conflict"`
	Confidence      *float64       `json:"confidence"`
}

var interactionScores = map[string]float64{
	"minor":           2,
	"moderate":        5,
	"major":           8,
	"contraindicated": 10,
}

// MedicationAdapter scores a medication review by its worst interaction.
type MedicationAdapter struct{}

func (MedicationAdapter) Domain() Domain { return DomainMedication }

func (MedicationAdapter) Map(raw json.RawMessage) (Mapped, error) {
	var p MedicationPayload
	if err := decode(raw, &p); err != nil {
		return Mapped{}, err
	}
	if p.Interactions == nil {
		return Mapped{}, missing("interactions")
	}
	if err := checkConfidence(p.Confidence); err != nil {
		return Mapped{}, err
	}

	var (
		worst     float64
		redFlag   = p.AllergyConflict
		rationale []string
	)
	for i, in := range *p.Interactions {
		sev := strings.ToLower(strings.TrimSpace(in.Severity))
		if sev == "" {
			return Mapped{}, missing(fmt.Sprintf("interactions[%d].severity", i))
		}
		score, ok := interactionScores[sev]
		if !ok {
			return Mapped{}, invalid(fmt.Sprintf("interactions[%d].severity", i), fmt.Sprintf("has unknown value %q", in.Severity))
		}
		worst = max(worst, score)
		if sev == "contraindicated" {
			redFlag = true
		}
		rationale = append(rationale, fmt.Sprintf("%s interaction: %s", sev, strings.Join(in.Drugs, " + ")))
	}
	if p.AllergyConflict {
		rationale = append(rationale, "allergy conflict with active prescription")
	}
	if len(rationale) == 0 {
		rationale = append(rationale, "no interactions found")
	}

	return Mapped{
		Raw:        worst,
		Score:      worst,
		Confidence: confidenceOr(p.Confidence, 1),
		Rationale:  rationale,
		RedFlag:    redFlag,
	}, nil
}

// DiagnosisPayload is emitted by the nutrient-deficiency diagnosis detector.
type DiagnosisPayload struct {
	Condition     string   `json:"condition"`
	Probability   *float64 `json:"probability"`
	SeverityIndex float64  `json:"severity_index"`
	Symptoms      []string `json:"symptoms"`
	Confidence    *float64 `json:"confidence"`
}

// DiagnosisAdapter blends the condition's severity index with the detector's probability.
type DiagnosisAdapter struct{}

func (DiagnosisAdapter) Domain() Domain { return DomainDiagnosis }

func (DiagnosisAdapter) Map(raw json.RawMessage) (Mapped, error) {
	var p DiagnosisPayload
	if err := decode(raw, &p); err != nil {
		return Mapped{}, err
	}
	if strings.TrimSpace(p.Condition) == "" {
		return Mapped{}, missing("condition")
	}
	if p.Probability == nil {
		return Mapped{}, missing("probability")
	}
	if err := within("probability", *p.Probability, 0, 1); err != nil {
		return Mapped{}, err
	}
	if err := within("severity_index", p.SeverityIndex, 0, 10); err != nil {
		return Mapped{}, err
	}
	if err := checkConfidence(p.Confidence); err != nil {
		return Mapped{}, err
	}

	prob := *p.Probability
	score := 0.6*p.SeverityIndex + 4*prob

	rationale := []string{fmt.Sprintf("suspected %s (p=%.2f, severity %.1f)", p.Condition, prob, p.SeverityIndex)}
	if len(p.Symptoms) > 0 {
		rationale = append(rationale, "symptoms: "+strings.Join(p.Symptoms, ", "))
	}

	return Mapped{
		Raw:        score,
		Score:      score,
		Confidence: confidenceOr(p.Confidence, prob),
		Rationale:  rationale,
		RedFlag:    prob >= 0.9 && p.SeverityIndex >= 8,
	}, nil
}
