package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Outcome classifies the result of a captcha verification attempt. Expected
// outcomes are values, not errors; only store failures surface as errors.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeInvalidChallenge
	OutcomeExpired
	OutcomeIncorrectAnswer
	OutcomeTooManyAttempts
)

// Code returns the wire-level outcome code used in API responses.
func (o Outcome) Code() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidChallenge:
		return "invalid_captcha"
	case OutcomeExpired:
		return "expired_captcha"
	case OutcomeIncorrectAnswer:
		return "incorrect_answer"
	case OutcomeTooManyAttempts:
		return "too_many_attempts"
	default:
		return "unknown"
	}
}

// Message returns the user-facing description for a failed outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeInvalidChallenge:
		return "Unknown or already-used captcha. Request a new one."
	case OutcomeExpired:
		return "Captcha expired. Request a new one."
	case OutcomeIncorrectAnswer:
		return "Incorrect answer. Try again."
	case OutcomeTooManyAttempts:
		return "Too many attempts. Request a new captcha."
	default:
		return ""
	}
}

// newQuestion generates an arithmetic challenge: two operands in 1..9 and an
// operator from {+, -, ×}. Subtraction operands are swapped so the answer is
// never negative.
func newQuestion() (question string, answer int) {
	a := rand.IntN(9) + 1
	b := rand.IntN(9) + 1

	switch rand.IntN(3) {
	case 0:
		return fmt.Sprintf("%d + %d", a, b), a + b
	case 1:
		if a < b {
			a, b = b, a
		}
		return fmt.Sprintf("%d - %d", a, b), a - b
	default:
		return fmt.Sprintf("%d × %d", a, b), a * b
	}
}

// hashAnswer computes the hash stored in place of the plaintext answer.
func hashAnswer(answer string) string {
	sum := sha256.Sum256([]byte(answer))
	return hex.EncodeToString(sum[:])
}

// checkAnswer normalizes a submitted answer to the decimal form used for
// hashing and compares it against the stored hash in constant time.
func checkAnswer(submitted, answerHash string) bool {
	normalized := strings.TrimSpace(submitted)
	if n, err := strconv.Atoi(normalized); err == nil {
		normalized = strconv.Itoa(n)
	}
	return subtle.ConstantTimeCompare([]byte(hashAnswer(normalized)), []byte(answerHash)) == 1
}
