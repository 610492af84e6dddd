// Package auth issues captcha challenges, checks logins and keeps the in-memory session table.
package auth

import (
	"errors"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
	"go.uber.org/zap"
)

const opLogin = "auth.login"

var (
	errMissingCredentials = errors.New("auth: credential checker required")
	errMissingSessions    = errors.New("auth: session registry required")
	errMissingCaptchas    = errors.New("auth: captcha registry required")
)

// Credentials checks a username/password pair against the account store.
type Credentials interface {
	Authenticate(username, password string) (users.User, error)
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Credentials Credentials
	Sessions    *SessionRegistry
	Captchas    *CaptchaRegistry
	Logger      *zap.Logger
}

// Service combines captcha verification, credential checks and session bookkeeping.
type Service struct {
	credentials Credentials
	sessions    *SessionRegistry
	captchas    *CaptchaRegistry
	logger      *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Credentials == nil {
		return nil, errMissingCredentials
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	if cfg.Captchas == nil {
		return nil, errMissingCaptchas
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		credentials: cfg.Credentials,
		sessions:    cfg.Sessions,
		captchas:    cfg.Captchas,
		logger:      logger,
	}, nil
}

// IssueCaptcha creates a challenge for the next login attempt.
func (s *Service) IssueCaptcha() (Challenge, error) {
	challenge, err := s.captchas.Issue()
	if err != nil {
		s.logger.Error("captcha issue failed", zap.Error(err))
	}
	return challenge, err
}

// Login verifies the captcha before the credentials and opens a session on success.
func (s *Service) Login(username, password, captchaToken, captchaCode string) (string, users.User, error) {
	if !s.captchas.Verify(captchaToken, captchaCode) {
		return "", users.User{}, failure.New(opLogin, "captcha_failed", failure.ErrCaptchaFailed)
	}
	user, err := s.credentials.Authenticate(username, password)
	if err != nil {
		if !errors.Is(err, failure.ErrInvalidCredentials) {
			s.logger.Error("login credential check failed",
				zap.String("username", username),
				zap.Error(err))
		}
		return "", users.User{}, err
	}
	sessionID, err := s.sessions.Create(user)
	if err != nil {
		s.logger.Error("session create failed", zap.String("username", username), zap.Error(err))
		return "", users.User{}, err
	}
	s.logger.Info("user logged in",
		zap.String("username", user.Username),
		zap.String("role", string(user.Role)))
	return sessionID, user, nil
}

// Resolve returns the account snapshot of an open session.
func (s *Service) Resolve(sessionID string) (users.User, error) {
	return s.sessions.Resolve(sessionID)
}

// Logout closes the session.
func (s *Service) Logout(sessionID string) {
	s.sessions.Destroy(sessionID)
}
