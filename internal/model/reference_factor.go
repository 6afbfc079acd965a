package model

// DefaultOutputUnit is the unit of derived totals when a factor does not say otherwise.
const DefaultOutputUnit = "kgCO2e"

// Parameter is one parameter/unit pair an external estimation accepts for a factor.
type Parameter struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// ConstituentFactor is a per-gas sub-factor of a reference factor.
type ConstituentFactor struct {
	Gas   string  `json:"gas"`
	Value float64 `json:"value"`
}

// ReferenceFactor is an immutable catalog entry that usage records are matched against.
type ReferenceFactor struct {
	ConversionValue    *float64 // nil means the factor requires external estimation
	ID                 string
	ExternalID         string // Identifier understood by the estimation service
	Version            string
	Unit               string
	Source             string // Issuing authority
	Region             string
	OutputUnit         string
	CategoryPath       []string
	AcceptedParameters []Parameter
	Constituents       []ConstituentFactor
	Year               int
	Scope              Scope
}

// CategoryText joins the non-empty category levels with spaces.
func (f *ReferenceFactor) CategoryText() string {
	return joinLevels(f.CategoryPath)
}

// HasDirectValue reports whether the factor can be applied without calling out.
func (f *ReferenceFactor) HasDirectValue() bool {
	return f.ConversionValue != nil
}

// RequiresEstimation reports whether the factor has an external estimation path.
func (f *ReferenceFactor) RequiresEstimation() bool {
	return f.ConversionValue == nil && f.ExternalID != ""
}

// ResultUnit returns the unit of totals computed from this factor.
func (f *ReferenceFactor) ResultUnit() string {
	if f.OutputUnit == "" {
		return DefaultOutputUnit
	}
	return f.OutputUnit
}

// Float returns a pointer to v, for building factors with a direct value.
func Float(v float64) *float64 {
	return &v
}
