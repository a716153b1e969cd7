package mockidp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/wrale/device-flow-session/internal/validation"
)

// deviceCodeBytes is the entropy of a device code; it is hex encoded on the wire
const deviceCodeBytes = 32

// generateDeviceCode returns a cryptographically secure opaque device code
func generateDeviceCode() (string, error) {
	b := make([]byte, deviceCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating device code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// generateUserCode returns a code in XXXX-XXXX form from the validation alphabet
func generateUserCode() (string, error) {
	const maxAttempts = 100
	charset := []rune(validation.ValidCharset)
	limit := big.NewInt(int64(len(charset)))

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var builder strings.Builder
		for i := 0; i < validation.CodeLength; i++ {
			// rand.Int draws uniformly, so no modulo bias
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", fmt.Errorf("generating random index: %w", err)
			}
			builder.WriteRune(charset[n.Int64()])
		}

		code := validation.FormatCode(builder.String())
		if err := validation.ValidateUserCode(code); err == nil {
			return code, nil
		}
	}

	return "", fmt.Errorf("failed to generate valid code after %d attempts", maxAttempts)
}
