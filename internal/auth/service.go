// Package auth registers and signs in users and carries the signed-in
// identity through request contexts.
package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"social-sync/internal/config"
	"social-sync/internal/database"
	"social-sync/internal/models"
	"social-sync/internal/utils"
)

// Session is returned by a successful register or login.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      models.Identity `json:"user"`
}

type Service struct {
	repo   *database.Repository
	tokens *Tokens
	cfg    *config.AuthConfig
	logger *zap.Logger
}

func NewService(repo *database.Repository, tokens *Tokens, cfg *config.AuthConfig, logger *zap.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, cfg: cfg, logger: utils.OrNop(logger)}
}

// Register creates the credential and the initial profile, then signs the
// user in.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Session, error) {
	name = utils.SanitizeText(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Name, email and password are required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Invalid email address", err)
	}

	_, err := s.repo.FindCredentialByEmail(ctx, email)
	if err == nil {
		return nil, utils.NewAppError(utils.ErrDuplicate, "Email already registered", nil)
	}
	if !utils.IsErrorCode(err, utils.ErrNotFound) {
		return nil, utils.NewAppError(utils.ErrStorage, "Failed to check email", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Password cannot be used", err)
	}

	uid := uuid.NewString()
	if err := s.repo.SaveCredential(ctx, database.Credential{UserID: uid, Email: email, HashedPassword: string(hashed)}); err != nil {
		if utils.IsErrorCode(err, utils.ErrDuplicate) {
			return nil, err
		}
		return nil, utils.NewAppError(utils.ErrStorage, "Failed to save credentials", err)
	}
	if err := s.repo.CreateProfile(ctx, uid, name, email); err != nil {
		// free the email for a retry
		if delErr := s.repo.DeleteCredential(context.WithoutCancel(ctx), uid); delErr != nil {
			s.logger.Error("failed to remove credential after profile error",
				zap.String("uid", uid), zap.Error(delErr))
		}
		return nil, utils.NewAppError(utils.ErrStorage, "Failed to create profile", err)
	}

	s.logger.Info("user registered", zap.String("uid", uid))
	return s.session(models.Identity{ID: uid, DisplayName: name, Email: email})
}

// Login checks the password and the allowed email domain and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Email and password are required", nil)
	}
	if domain := s.cfg.AllowedEmailDomain; domain != "" &&
		!strings.HasSuffix(strings.ToLower(email), "@"+strings.ToLower(domain)) {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Only @"+domain+" addresses may sign in", nil)
	}

	cred, err := s.repo.FindCredentialByEmail(ctx, email)
	if utils.IsErrorCode(err, utils.ErrNotFound) {
		return nil, utils.NewAppError(utils.ErrInvalidCredentials, "Invalid credentials", nil)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrStorage, "Failed to look up account", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.HashedPassword), []byte(password)); err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidCredentials, "Invalid credentials", nil)
	}

	id := models.Identity{ID: cred.UserID, Email: cred.Email}
	if p, err := s.repo.GetProfile(ctx, cred.UserID); err == nil {
		id.DisplayName = p.Name
	}
	s.logger.Info("user signed in", zap.String("uid", cred.UserID))
	return s.session(id)
}

func (s *Service) session(id models.Identity) (*Session, error) {
	token, expiresAt, err := s.tokens.GenerateToken(id)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "Failed to issue token", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: id}, nil
}
