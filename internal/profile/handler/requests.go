package handler

import (
	"strings"

	dErrors "attest/pkg/domain-errors"
)

type updateProfileRequest struct {
	Name     *string `json:"name"`
	Avatar   *string `json:"avatar"`
	Username *string `json:"username"`
}

func (r updateProfileRequest) Validate() error {
	if r.Name == nil && r.Avatar == nil && r.Username == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "no profile fields to update")
	}
	if r.Username != nil {
		if name := *r.Username; name != "" {
			if len(name) > 128 {
				return dErrors.New(dErrors.CodeInvalidInput, "username is too long")
			}
			if strings.ContainsAny(name, " \t\n@") {
				return dErrors.New(dErrors.CodeInvalidInput, "username contains invalid characters")
			}
		}
	}
	return nil
}

type changePasswordRequest struct {
	Password             string `json:"password"`
	VerificationRecordID string `json:"verificationRecordId"`
}

func (r changePasswordRequest) Validate() error {
	if r.Password == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "password is required")
	}
	if r.VerificationRecordID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "verificationRecordId is required")
	}
	return nil
}

type changePrimaryEmailRequest struct {
	Email                string `json:"email"`
	VerificationRecordID string `json:"verificationRecordId"`
	NewRecordID          string `json:"newIdentifierVerificationRecordId"`
}

func (r changePrimaryEmailRequest) Validate() error {
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return dErrors.New(dErrors.CodeInvalidInput, "a valid email is required")
	}
	return validateRecordIDs(r.VerificationRecordID, r.NewRecordID)
}

type changePrimaryPhoneRequest struct {
	Phone                string `json:"phone"`
	VerificationRecordID string `json:"verificationRecordId"`
	NewRecordID          string `json:"newIdentifierVerificationRecordId"`
}

func (r changePrimaryPhoneRequest) Validate() error {
	if r.Phone == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "phone is required")
	}
	return validateRecordIDs(r.VerificationRecordID, r.NewRecordID)
}

type linkIdentityRequest struct {
	Target               string            `json:"target"`
	ExternalID           string            `json:"externalId"`
	Details              map[string]string `json:"details,omitempty"`
	VerificationRecordID string            `json:"verificationRecordId"`
	NewRecordID          string            `json:"newIdentifierVerificationRecordId"`
}

func (r linkIdentityRequest) Validate() error {
	if r.Target == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "target is required")
	}
	if r.ExternalID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "externalId is required")
	}
	return validateRecordIDs(r.VerificationRecordID, r.NewRecordID)
}

type unlinkIdentityRequest struct {
	VerificationRecordID string `json:"verificationRecordId"`
}

func (r unlinkIdentityRequest) Validate() error {
	if r.VerificationRecordID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "verificationRecordId is required")
	}
	return nil
}

func validateRecordIDs(current, fresh string) error {
	if current == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "verificationRecordId is required")
	}
	if fresh == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "newIdentifierVerificationRecordId is required")
	}
	return nil
}
