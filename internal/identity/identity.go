// Package identity carries the authenticated user across the request path.
// The id is the identity-provider (Firebase) uid; an empty id means the
// caller is not authenticated.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"github.com/universalathletics/inbox/pkg/utils"
)

const (
	ProviderJWT      = "jwt"
	ProviderFirebase = "firebase"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type contextKey struct{}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// CurrentUserID returns "" when ctx carries no authenticated user.
func CurrentUserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}

// Verifier turns a bearer token into a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	claims, err := utils.ValidateToken(token, v.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.UserID, nil
}

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier accepts Firebase Auth ID tokens, the same tokens the
// mobile client already holds.
type FirebaseVerifier struct {
	client idTokenVerifier
}

func NewFirebaseVerifier(client idTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (string, error) {
	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if decoded.UID == "" {
		return "", ErrInvalidToken
	}
	return decoded.UID, nil
}

// NewVerifier builds the verifier for provider. app is only needed for the
// firebase provider.
func NewVerifier(ctx context.Context, provider, secret string, app *firebase.App) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderJWT:
		if secret == "" {
			return nil, errors.New("JWT_SECRET is required for jwt auth")
		}
		return NewJWTVerifier(secret), nil
	case ProviderFirebase:
		if app == nil {
			return nil, errors.New("firebase auth requires a firebase app")
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase auth client: %w", err)
		}
		return NewFirebaseVerifier(client), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", provider)
	}
}
