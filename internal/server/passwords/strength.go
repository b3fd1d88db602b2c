package passwords

import "github.com/nbutton23/zxcvbn-go"

// StrengthChecker rejects passwords scoring below a zxcvbn threshold (0..4).
type StrengthChecker struct {
	min int
}

func NewStrengthChecker(min int) *StrengthChecker {
	return &StrengthChecker{min: min}
}

// Score returns the zxcvbn score of password. userInputs (email, etc.)
// count against the password.
func (s *StrengthChecker) Score(password string, userInputs ...string) int {
	return zxcvbn.PasswordStrength(password, userInputs).Score
}

// Strong reports whether password meets the configured minimum.
func (s *StrengthChecker) Strong(password string, userInputs ...string) bool {
	return s.Score(password, userInputs...) >= s.min
}
