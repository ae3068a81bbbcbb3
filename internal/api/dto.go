package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/assistenze/internal/apperr"
	"github.com/starford/assistenze/internal/auth"
)

// CredentialsRequest is the body of POST /api/register and POST /api/login.
type CredentialsRequest struct {
	Email    string `json:"email" example:"tecnico@example.com" validate:"required"`
	Password string `json:"password" example:"segreta" validate:"required"`
}

// Validate checks that both fields are present and the e-mail is well formed.
func (c CredentialsRequest) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required),
		validation.Field(&c.Password, validation.Required),
	); err != nil {
		return apperr.Wrap(apperr.ErrValidation, auth.MsgCredentialsRequired, err)
	}
	if err := validation.Validate(c.Email, is.EmailFormat); err != nil {
		return apperr.Wrap(apperr.ErrValidation, auth.MsgInvalidEmail, err)
	}
	return nil
}

// LoginResponse is returned by POST /api/login.
type LoginResponse struct {
	Token     string    `json:"token" validate:"required"`
	Role      string    `json:"role" example:"technician"`
	ExpiresAt time.Time `json:"expiresAt"`
}
