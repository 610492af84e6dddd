package auth

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
)

const (
	opCaptchaIssue = "auth.captcha.issue"

	// DefaultCaptchaTTL bounds how long an issued challenge verifies.
	DefaultCaptchaTTL = 5 * time.Minute

	captchaLength   = 6
	captchaAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Challenge is an issued captcha.
type Challenge struct {
	Token     string
	Code      string
	ExpiresAt time.Time
}

// CaptchaRegistryConfig describes the dependencies of a CaptchaRegistry.
type CaptchaRegistryConfig struct {
	IDs   IDProvider
	Clock func() time.Time
	TTL   time.Duration
}

// CaptchaRegistry holds issued challenges. A challenge stays valid for repeated
// verification until it expires, and expired entries are kept.
type CaptchaRegistry struct {
	mu         sync.RWMutex
	ids        IDProvider
	clock      func() time.Time
	ttl        time.Duration
	challenges map[string]Challenge
}

// NewCaptchaRegistry constructs an empty registry.
func NewCaptchaRegistry(cfg CaptchaRegistryConfig) *CaptchaRegistry {
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCaptchaTTL
	}
	return &CaptchaRegistry{
		ids:        ids,
		clock:      clock,
		ttl:        ttl,
		challenges: make(map[string]Challenge),
	}
}

// Issue creates and stores a new challenge.
func (r *CaptchaRegistry) Issue() (Challenge, error) {
	token, err := r.ids.NewID()
	if err != nil {
		return Challenge{}, failure.Wrap(opCaptchaIssue, "id_failed", err)
	}
	code, err := randomCode(captchaLength)
	if err != nil {
		return Challenge{}, failure.Wrap(opCaptchaIssue, "random_failed", err)
	}
	challenge := Challenge{
		Token:     token,
		Code:      code,
		ExpiresAt: r.clock().Add(r.ttl),
	}
	r.mu.Lock()
	r.challenges[token] = challenge
	r.mu.Unlock()
	return challenge, nil
}

// Verify reports whether token is known, unexpired and carries exactly code.
func (r *CaptchaRegistry) Verify(token, code string) bool {
	r.mu.RLock()
	challenge, ok := r.challenges[token]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !r.clock().Before(challenge.ExpiresAt) {
		return false
	}
	return challenge.Code == code
}

func randomCode(length int) (string, error) {
	limit := big.NewInt(int64(len(captchaAlphabet)))
	code := make([]byte, length)
	for index := range code {
		position, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		code[index] = captchaAlphabet[position.Int64()]
	}
	return string(code), nil
}
