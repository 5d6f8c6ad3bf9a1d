// Package token mints the short-lived signed assertions that identify a principal to the upstream compute gateway.
package token

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "token"})

// ErrMissingSigningKey is returned when a Minter is created without a signing key.
var ErrMissingSigningKey = errors.New("a token signing key is required")

// reuseMargin is how long before expiry a cached token stops being handed out.
const reuseMargin = time.Minute

// Claims are the claims carried by a gateway token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Minter creates HS256 signed tokens for principals. Tokens are reused for the same principal until shortly before
// they expire. A Minter is safe for concurrent use.
type Minter struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  clock.PassiveClock

	mu     sync.Mutex
	tokens map[model.Principal]cachedToken
}

// NewMinter returns a new Minter. A missing signing key is fatal.
func NewMinter(key, issuer string, ttl time.Duration, clk clock.PassiveClock) (*Minter, error) {
	if key == "" {
		return nil, ErrMissingSigningKey
	}
	if ttl <= reuseMargin {
		return nil, fmt.Errorf("token TTL must be longer than %s", reuseMargin)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Minter{
		key:    []byte(key),
		issuer: issuer,
		ttl:    ttl,
		clock:  clk,
		tokens: make(map[model.Principal]cachedToken),
	}, nil
}

// Mint returns a signed token for the principal.
func (m *Minter) Mint(p model.Principal) (string, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.tokens[p]; ok && now.Add(reuseMargin).Before(cached.expiresAt) {
		return cached.value, nil
	}

	expiresAt := now.Add(m.ttl)
	claims := Claims{
		UserID: p.ID,
		Email:  p.Email,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", err
	}
	m.pruneExpired(now)
	m.tokens[p] = cachedToken{value: signed, expiresAt: expiresAt}

	log.WithFields(logrus.Fields{"context": "mint", "principal": p.ID}).Trace("minted a new gateway token")

	return signed, nil
}

// pruneExpired drops cached tokens that have expired. The caller must hold m.mu.
func (m *Minter) pruneExpired(now time.Time) {
	for p, cached := range m.tokens {
		if !now.Before(cached.expiresAt) {
			delete(m.tokens, p)
		}
	}
}

// Verify parses a token and validates its signature, issuer and expiry.
func (m *Minter) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(t *jwt.Token) (interface{}, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
