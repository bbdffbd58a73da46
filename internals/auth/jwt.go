package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thebowwman/fleetcast/internals/domain"
)

type Role string

const (
	RoleDriver     Role = "driver"
	RoleDispatcher Role = "dispatcher"
)

func (r Role) Valid() bool { return r == RoleDriver || r == RoleDispatcher }

var (
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
)

type Claims struct {
	DriverID string `json:"driver_id,omitempty"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens for the control API.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// MakeToken mints a token; driverID is required for drivers and ignored otherwise.
func (i *Issuer) MakeToken(driverID string, role Role) (string, error) {
	if !role.Valid() {
		return "", errors.New("unknown role")
	}
	if role == RoleDriver && driverID == "" {
		return "", errors.New("driver token needs a driver id")
	}

	now := time.Now()
	claims := Claims{
		DriverID: driverID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   driverID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) ParseToken(tok string) (*Claims, error) {

	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !parsed.Valid || !claims.Role.Valid() {

		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) ParseTokenFromRequest(r *http.Request) (*Claims, error) {

	header := r.Header.Get("Authorization")
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {

		return nil, ErrMissingToken

	}

	tok := strings.TrimSpace(header[len("bearer "):])
	return i.ParseToken(tok)

}
