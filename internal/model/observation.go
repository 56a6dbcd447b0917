package model

// Observation is one candidate value for a field, as produced by an
// extraction pass or a structured intake answer.
type Observation struct {
	Field      string     `json:"field"`
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
}

// RejectReason classifies why an observation was not applied.
type RejectReason string

const (
	RejectUnknownField         RejectReason = "unknown_field"
	RejectBelowConfidenceFloor RejectReason = "below_confidence_floor"
	RejectDomainViolation      RejectReason = "domain_violation"
	RejectSuperseded           RejectReason = "superseded_by_existing"
)

// Rejection records one refused observation with a human-readable
// message suitable for surfacing back to the sender.
type Rejection struct {
	Field   string       `json:"field"`
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message,omitempty"`
}

// ApplyResult summarizes one batch application: which fields were
// written and why the rest were not.
type ApplyResult struct {
	ProfileID string      `json:"profile_id"`
	Accepted  []string    `json:"accepted"`
	Rejected  []Rejection `json:"rejected"`
}
