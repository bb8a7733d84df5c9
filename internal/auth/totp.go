package auth

import (
	"time"

	"github.com/pquerna/otp/totp"

	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
)

// GenerateTOTP derives the current 6-digit code from a base32 secret.
// Used when the secret is stored in credentials so login can run
// without an authenticator app.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", apperrors.NewValidationError("totp_secret", "", "totp secret is empty", apperrors.ErrInvalidCredentialFormat)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return "", apperrors.NewValidationError("totp_secret", "[redacted]", "invalid totp secret", apperrors.ErrInvalidCredentialFormat)
	}
	return code, nil
}
