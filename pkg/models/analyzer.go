package models

// GeneratePasswordRequest configures one password generation call.
// The effective character set is the union of the enabled classes; ambiguous
// characters are removed after the union.
type GeneratePasswordRequest struct {
	Length           int  `json:"length"`
	IncludeUppercase bool `json:"include_uppercase"`
	IncludeLowercase bool `json:"include_lowercase"`
	IncludeNumbers   bool `json:"include_numbers"`
	IncludeSpecial   bool `json:"include_special"`
	ExcludeAmbiguous bool `json:"exclude_ambiguous"`
}

// StrengthResult is the outcome of scoring a password.
type StrengthResult struct {
	Score        int      `json:"score"` // 0-100
	Entropy      float64  `json:"entropy"`
	Band         string   `json:"band"` // Excellent, Good, Fair, Weak
	HasUppercase bool     `json:"has_uppercase"`
	HasLowercase bool     `json:"has_lowercase"`
	HasNumbers   bool     `json:"has_numbers"`
	HasSpecial   bool     `json:"has_special"`
	Length       int      `json:"length"`
	Feedback     []string `json:"feedback"`
}
