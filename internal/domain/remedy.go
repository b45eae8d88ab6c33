package domain

// Remedy is one row of the remedies table: a plant or condition and the
// symptoms, herbs and advice associated with it.
type Remedy struct {
	ID              int64   `json:"id"`
	PlantName       string  `json:"plant_name"`
	Symptoms        string  `json:"symptoms"`
	Herbs           string  `json:"herbs"`
	Recommendations string  `json:"recommendations"`
	Precautions     *string `json:"precautions,omitempty"`
}

// HasPrecautions reports whether the remedy carries a non-empty precaution.
func (r *Remedy) HasPrecautions() bool {
	return r.Precautions != nil && *r.Precautions != ""
}

// PrecautionText returns the precaution or "" when absent.
func (r *Remedy) PrecautionText() string {
	if r.Precautions == nil {
		return ""
	}
	return *r.Precautions
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
