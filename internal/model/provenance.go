package model

// Provenance describes how an observation was obtained.
type Provenance string

const (
	// ProvenanceExplicit marks a value the person stated directly in free text.
	ProvenanceExplicit Provenance = "explicit"
	// ProvenanceInferred marks a value the extractor inferred from context.
	ProvenanceInferred Provenance = "inferred"
	// ProvenanceStructured marks a value captured from a tap-to-select answer.
	ProvenanceStructured Provenance = "structured-input"
)

// Valid reports whether p is one of the recognized provenance values.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceExplicit, ProvenanceInferred, ProvenanceStructured:
		return true
	}
	return false
}

// Authoritative reports whether the provenance is strong enough for a
// primary attribute. Inferred values never qualify.
func (p Provenance) Authoritative() bool {
	return p == ProvenanceExplicit || p == ProvenanceStructured
}
