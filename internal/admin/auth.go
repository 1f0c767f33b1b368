package admin

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims are the JWT claims issued on login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator validates the admin password and issues bearer tokens.
// With no password hash configured, authentication is disabled and all
// requests pass.
type Authenticator struct {
	passwordHash []byte
	secretKey    []byte
	expiry       time.Duration
}

// NewAuthenticator creates an authenticator for the configured bcrypt
// hash. The signing secret comes from KANYO_JWT_SECRET or is generated
// per process.
func NewAuthenticator(passwordHash string) *Authenticator {
	secret := os.Getenv("KANYO_JWT_SECRET")
	if secret == "" {
		randomBytes := make([]byte, 32)
		rand.Read(randomBytes)
		secret = hex.EncodeToString(randomBytes)
	}
	a := &Authenticator{
		secretKey: []byte(secret),
		expiry:    24 * time.Hour,
	}
	if passwordHash != "" {
		a.passwordHash = []byte(passwordHash)
	}
	return a
}

// Enabled reports whether a password is configured.
func (a *Authenticator) Enabled() bool { return len(a.passwordHash) > 0 }

// Login checks the password and returns a signed token.
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(a.expiry)
	claims := &Claims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "kanyo",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate parses and checks a bearer token.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token when
// authentication is enabled.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		if _, err := a.Validate(parts[1]); err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
