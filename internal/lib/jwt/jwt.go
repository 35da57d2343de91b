package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"judgeauth/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails parsing, signature
// or claim validation.
var ErrInvalidToken = errors.New("invalid token")

var errEmptySecret = errors.New("jwt: empty signing secret")

// Claims is the signed payload of an access token.
type Claims struct {
	UserID      int64  `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"show_name"`
	Role        string `json:"role"`
	Rating      int    `json:"rating"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access tokens with a process-wide HMAC secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New returns a Codec. An empty secret is a configuration error.
func New(secret string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("jwt: ttl must be positive, got %s", ttl)
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of the codec using fn as its time source.
func (c *Codec) WithClock(fn func() time.Time) *Codec {
	cp := *c
	cp.now = fn
	return &cp
}

// TTL is the lifetime of tokens issued by the codec.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Sign creates an access token for user carrying jti as its token identifier.
func (c *Codec) Sign(user models.User, jti string) (string, error) {
	now := c.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role.String(),
		Rating:      user.Rating,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})

	return token.SignedString(c.secret)
}

// Verify parses a token, checks its signature and expiry and returns the claims.
func (c *Codec) Verify(tokenString string) (models.AccessClaims, error) {
	claims, err := c.parse(tokenString, jwt.WithExpirationRequired(), jwt.WithTimeFunc(c.now))
	if err != nil {
		return models.AccessClaims{}, err
	}

	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return models.AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return models.AccessClaims{}, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}

	return models.AccessClaims{
		UserID:      claims.UserID,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Role:        role,
		Rating:      claims.Rating,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// TokenID returns the jti of a token whose signature is valid, regardless of
// whether it has expired. Refresh requests normally carry an expired access
// token, so expiry must not hide the binding key.
func (c *Codec) TokenID(tokenString string) (string, error) {
	claims, err := c.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	return claims.ID, nil
}

func (c *Codec) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
