package security

import (
	"regexp"

	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
)

var (
	// Brokerage mobile numbers must carry the +91 country prefix followed
	// by exactly ten digits.
	mobilePattern = regexp.MustCompile(`^\+91\d{10}$`)
	uccPattern    = regexp.MustCompile(`^[A-Za-z0-9]{3,12}$`)
	mpinPattern   = regexp.MustCompile(`^\d{6}$`)
	totpPattern   = regexp.MustCompile(`^\d{6}$`)
)

// ValidateMobile checks the +91 mobile format before any network call.
func ValidateMobile(mobile string) error {
	if !mobilePattern.MatchString(mobile) {
		return apperrors.NewValidationError("mobile", MaskCredential(mobile),
			"must be +91 followed by 10 digits", apperrors.ErrInvalidCredentialFormat)
	}
	return nil
}

// ValidateUCC checks the unique client code format.
func ValidateUCC(ucc string) error {
	if !uccPattern.MatchString(ucc) {
		return apperrors.NewValidationError("ucc", ucc,
			"must be 3-12 alphanumeric characters", apperrors.ErrInvalidCredentialFormat)
	}
	return nil
}

// ValidateMPIN checks the 6-digit MPIN format.
func ValidateMPIN(mpin string) error {
	if !mpinPattern.MatchString(mpin) {
		return apperrors.NewValidationError("mpin", MaskCredential(mpin),
			"must be 6 digits", apperrors.ErrInvalidCredentialFormat)
	}
	return nil
}

// ValidateTOTPCode checks the 6-digit TOTP code format. Codes are
// time-windowed; format validity says nothing about acceptance upstream.
func ValidateTOTPCode(code string) error {
	if !totpPattern.MatchString(code) {
		return apperrors.NewValidationError("totp", MaskCredential(code),
			"must be 6 digits", apperrors.ErrInvalidCredentialFormat)
	}
	return nil
}

// ValidateConsumerKey checks that a consumer key is present.
func ValidateConsumerKey(key string) error {
	if key == "" {
		return apperrors.NewValidationError("consumer_key", "",
			"must not be empty", apperrors.ErrInvalidCredentialFormat)
	}
	return nil
}
