package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateOTP returns a uniformly distributed numeric code of the given length.
// Leading zeros are preserved.
func GenerateOTP(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("otp length must be between 1 and 18, got %d", length)
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// GenerateDistinctOTP returns a code that differs from previous.
func GenerateDistinctOTP(length int, previous string) (string, error) {
	for i := 0; i < 8; i++ {
		code, err := GenerateOTP(length)
		if err != nil {
			return "", err
		}
		if code != previous {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate otp: could not produce a fresh code")
}
