package analyzer

import (
	"math"
	"unicode"

	"github.com/org/credvault/pkg/models"
)

// Qualitative score bands.
const (
	BandExcellent = "Excellent"
	BandGood      = "Good"
	BandFair      = "Fair"
	BandWeak      = "Weak"
)

// Score evaluates a password's strength. Entropy is length × log2 of the
// pool implied by the character classes actually present; the 0-100 score
// blends entropy with length and diversity bonuses. Feedback lists the
// concrete checks the password fails, in a fixed order.
func Score(password string) models.StrengthResult {
	r := models.StrengthResult{Length: len(password)}

	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			r.HasUppercase = true
		case unicode.IsLower(c):
			r.HasLowercase = true
		case unicode.IsDigit(c):
			r.HasNumbers = true
		default:
			r.HasSpecial = true
		}
	}

	pool := 0
	classes := 0
	if r.HasLowercase {
		pool += len(charsetLowercase)
		classes++
	}
	if r.HasUppercase {
		pool += len(charsetUppercase)
		classes++
	}
	if r.HasNumbers {
		pool += len(charsetDigits)
		classes++
	}
	if r.HasSpecial {
		pool += len(charsetSpecial)
		classes++
	}

	if pool > 0 && r.Length > 0 {
		r.Entropy = float64(r.Length) * math.Log2(float64(pool))
	}

	// Entropy carries most of the weight; length and diversity top it up.
	score := r.Entropy * 0.55
	score += math.Min(float64(r.Length)*1.5, 20)
	score += float64(classes) * 5
	if r.Length < MinLength {
		score = math.Min(score, 25)
	}
	r.Score = int(math.Min(math.Max(score, 0), 100))

	switch {
	case r.Score >= 80:
		r.Band = BandExcellent
	case r.Score >= 60:
		r.Band = BandGood
	case r.Score >= 40:
		r.Band = BandFair
	default:
		r.Band = BandWeak
	}

	r.Feedback = feedback(r)
	return r
}

// feedback is deterministic: each failed check contributes one fixed message.
func feedback(r models.StrengthResult) []string {
	var fb []string
	if r.Length < MinLength {
		fb = append(fb, "too short: use at least 8 characters")
	} else if r.Length < 12 {
		fb = append(fb, "consider 12 or more characters")
	}
	if !r.HasUppercase {
		fb = append(fb, "add an uppercase letter")
	}
	if !r.HasLowercase {
		fb = append(fb, "add a lowercase letter")
	}
	if !r.HasNumbers {
		fb = append(fb, "add a number")
	}
	if !r.HasSpecial {
		fb = append(fb, "add a special character")
	}
	return fb
}
