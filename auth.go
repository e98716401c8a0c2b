package gantry

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type userIDKey struct{}

// RequireAuth creates a middleware factory that validates JWT tokens from the
// Authorization header. It expects the header format:
// "Authorization: Bearer <token>"
//
// If the token is valid, the user ID is stored in the request State for
// downstream middleware and the handler. If the token is invalid or missing,
// the chain is short-circuited with a 401 Unauthorized response - nothing
// after this middleware runs.
//
// Usage:
//
//	pipeline := gantry.NewPipeline().
//	    Add(gantry.RequireAuth("your-secret-key")).
//	    Build()
func RequireAuth(secret string) NewMiddleware {
	return MiddlewareFunc(func(ctx context.Context, s *State, r *http.Request, next Next) Response {
		// Extract token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			return JSON(http.StatusUnauthorized, map[string]string{
				"error": "missing authorization header",
			})
		}

		// Expected format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid authorization format",
			})
		}

		userID, err := ValidateJWT(parts[1], secret)
		if err != nil {
			return JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid token",
			})
		}

		s.Put(userIDKey{}, userID)

		return next(ctx, s, r)
	})
}

// RequireBasicAuth creates a middleware factory that validates HTTP basic
// auth credentials against a map of username -> bcrypt password hash (see
// HashPassword). On success the username is stored in the request State under
// the same key RequireAuth uses; on failure the chain is short-circuited with
// a 401 carrying a WWW-Authenticate challenge.
//
// Usage:
//
//	users := map[string]string{"admin": adminHash}
//	pipeline := gantry.NewPipeline().
//	    Add(gantry.RequireBasicAuth(users)).
//	    Build()
func RequireBasicAuth(users map[string]string) NewMiddleware {
	return MiddlewareFunc(func(ctx context.Context, s *State, r *http.Request, next Next) Response {
		user, pass, ok := r.BasicAuth()
		if ok {
			if hash, found := users[user]; found && CheckPassword(pass, hash) == nil {
				s.Put(userIDKey{}, user)
				return next(ctx, s, r)
			}
		}
		return WithHeader(JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
		}), "WWW-Authenticate", `Basic realm="restricted"`)
	})
}

// UserID extracts the authenticated user ID from the request State. Returns
// the user ID and a boolean indicating if it was found.
//
// Call this in handlers protected by RequireAuth or RequireBasicAuth:
//
//	func myHandler(ctx context.Context, s *gantry.State, r *http.Request) gantry.Response {
//	    userID, ok := gantry.UserID(s)
//	    if !ok {
//	        return gantry.Error("user not found")
//	    }
//	    // Use userID...
//	}
func UserID(s *State) (string, bool) {
	v, ok := s.Get(userIDKey{})
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// GenerateJWT creates a signed JWT token for the given user ID.
// The token includes standard claims (subject, issued at, expiration).
//
// Parameters:
//   - userID: The user identifier to embed in the token (stored as "sub" claim)
//   - secret: The secret key used to sign the token
//   - expiration: How long the token should be valid (e.g., 24 * time.Hour)
//
// Returns the signed token string or an error.
func GenerateJWT(userID string, secret string, expiration time.Duration) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT parses and validates a JWT token string.
// It verifies the signature, expiration, and extracts the user ID.
//
// Returns the user ID (from "sub" claim) or an error if invalid.
func ValidateJWT(tokenString string, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	userID, ok := claims["sub"].(string)
	if !ok {
		return "", errors.New("missing user ID in token")
	}

	return userID, nil
}

// bcryptCost defines the computational cost of the bcrypt algorithm.
// Higher values are more secure but slower. 12 is a good balance for 2024.
const bcryptCost = 12

// HashPassword generates a bcrypt hash of the given password. The resulting
// hash is safe to store in a database and to feed to RequireBasicAuth.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies that a plaintext password matches a bcrypt hash.
// Returns nil if the password is correct, or an error if incorrect.
func CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
