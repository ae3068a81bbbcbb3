// Package auth registers users, verifies credentials and issues the signed
// tokens that gate the protected endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/assistenze/internal/apperr"
	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/storage"
)

// Client-facing messages.
const (
	MsgCredentialsRequired = "Email e password richieste"
	MsgInvalidEmail        = "Indirizzo email non valido"
	MsgPasswordTooLong     = "Password troppo lunga"
	MsgUserExists          = "Utente già registrato"
	MsgBadCredentials      = "Credenziali non valide"
	MsgTokenMissing        = "Token mancante"
	MsgTokenInvalid        = "Token non valido"
	MsgAccessDenied        = "Accesso negato"
)

// DefaultTokenTTL is the validity of issued tokens when none is configured.
const DefaultTokenTTL = 2 * time.Hour

// Claims is the payload of an issued token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds the authentication settings.
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	Admins     []string
	BcryptCost int
}

// Service implements registration, login and token verification.
type Service struct {
	users  storage.Collection[models.User]
	secret []byte
	ttl    time.Duration
	admins []string
	cost   int
	now    func() time.Time

	// dummyHash is compared against when the e-mail is unknown, so that both
	// login failures take a bcrypt comparison.
	dummyHash []byte
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used to issue and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an auth service. It refuses an empty secret.
func NewService(users storage.Collection[models.User], cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range", cfg.BcryptCost)
	}

	s := &Service{
		users:  users,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		now:    time.Now,
	}
	for _, a := range cfg.Admins {
		s.admins = append(s.admins, models.NormalizeEmail(a))
	}
	for _, o := range opts {
		o(s)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("assistenze-dummy-password"), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Register stores a new user with a bcrypt hash of password.
func (s *Service) Register(ctx context.Context, email, password string) (models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, apperr.New(apperr.ErrValidation, MsgCredentialsRequired)
	}
	if err := validation.Validate(email, is.EmailFormat); err != nil {
		return models.User{}, apperr.Wrap(apperr.ErrValidation, MsgInvalidEmail, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return models.User{}, apperr.New(apperr.ErrValidation, MsgPasswordTooLong)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	user := models.User{Email: email, PasswordHash: string(hash), Role: s.defaultRole(email)}
	_, err = s.users.Update(ctx, func(snap storage.Snapshot[models.User]) ([]models.User, error) {
		if findUser(snap.Items, email) >= 0 {
			return nil, apperr.New(apperr.ErrConflict, MsgUserExists)
		}
		return append(snap.Items, user), nil
	})
	if err != nil {
		return models.User{}, wrapStorage(err)
	}
	return user, nil
}

// Login verifies the credentials and returns a signed token. Unknown e-mail
// and wrong password fail with the same error.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Claims, error) {
	snap, err := s.users.Load(ctx)
	if err != nil {
		return "", nil, wrapStorage(err)
	}
	i := findUser(snap.Items, models.NormalizeEmail(email))
	if i < 0 {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return "", nil, apperr.New(apperr.ErrUnauthorized, MsgBadCredentials)
	}
	user := snap.Items[i]
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.New(apperr.ErrUnauthorized, MsgBadCredentials)
	}
	return s.Issue(user)
}

// Issue signs a token for user.
func (s *Service) Issue(user models.User) (string, *Claims, error) {
	email := models.NormalizeEmail(user.Email)
	now := s.now()
	claims := &Claims{
		Email: email,
		Role:  s.roleOf(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Authorize verifies a token and returns its claims.
func (s *Service) Authorize(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.New(apperr.ErrForbidden, MsgTokenMissing)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrForbidden, MsgTokenInvalid, err)
	}
	if !parsed.Valid || claims.Email == "" {
		return nil, apperr.New(apperr.ErrForbidden, MsgTokenInvalid)
	}
	return claims, nil
}

// RequireRole fails unless claims carry role.
func RequireRole(claims *Claims, role string) error {
	if claims == nil || claims.Role != role {
		return apperr.New(apperr.ErrForbidden, MsgAccessDenied)
	}
	return nil
}

func (s *Service) isAdmin(email string) bool {
	return slices.Contains(s.admins, models.NormalizeEmail(email))
}

func (s *Service) defaultRole(email string) string {
	if s.isAdmin(email) {
		return models.RoleAdmin
	}
	return models.RoleTechnician
}

// roleOf upgrades accounts listed as admins and defaults older accounts
// without a stored role to technician.
func (s *Service) roleOf(u models.User) string {
	if s.isAdmin(u.Email) {
		return models.RoleAdmin
	}
	if u.Role == "" {
		return models.RoleTechnician
	}
	return u.Role
}

func findUser(users []models.User, email string) int {
	return slices.IndexFunc(users, func(u models.User) bool {
		return models.NormalizeEmail(u.Email) == email
	})
}

func wrapStorage(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, apperr.ErrConflict) {
		return err
	}
	return apperr.Wrap(apperr.ErrStorage, "Errore nell'accesso agli utenti", err)
}
