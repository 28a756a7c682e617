package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"gather/internal/engine"
	"gather/internal/engine/auth"
)

const accessTokenHeader = "X-Access-Token"

type AuthConfig struct {
	// JWTSecret signs operator tokens (HS256). Empty disables bearer auth.
	JWTSecret string
}

type grantKey struct{}

func withGrant(ctx context.Context, g auth.Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

func grantFromContext(ctx context.Context) (auth.Grant, huma.StatusError) {
	if g, ok := ctx.Value(grantKey{}).(auth.Grant); ok && g.ActorID != "" {
		return g, nil
	}
	return auth.Grant{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// require resolves the caller and checks perm against eventID.
func require(ctx context.Context, eventID, perm string) (auth.Grant, huma.StatusError) {
	g, herr := grantFromContext(ctx)
	if herr != nil {
		return g, herr
	}
	if err := g.Require(eventID, perm); err != nil {
		return g, handleError(err)
	}
	return g, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions,omitempty"`
}

// SignToken mints an HS256 operator token for subject. Empty perms grant
// everything.
func SignToken(secret, subject string, perms []string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Permissions: perms,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (auth.Grant, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Grant{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Grant{}, err
	}
	if !parsed.Valid {
		return auth.Grant{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Grant{}, errors.New("subject claim required")
	}
	return auth.GrantForSubject(claims.Subject, claims.Permissions), nil
}

func authenticateAccessToken(ctx context.Context, e engine.Engine, value string) (auth.Grant, error) {
	t, err := e.LookupToken(ctx, value)
	if err != nil {
		return auth.Grant{}, err
	}
	return auth.GrantForToken(t), nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	invalid := func(w http.ResponseWriter) {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if !strings.HasPrefix(req.URL.Path, basePath) || req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			access := strings.TrimSpace(req.Header.Get(accessTokenHeader))

			var (
				g   auth.Grant
				err error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					invalid(w)
					return
				}
				g, err = authenticateJWT(token, cfg.JWTSecret)
			case access != "":
				g, err = authenticateAccessToken(req.Context(), e, access)
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				invalid(w)
				return
			}
			next.ServeHTTP(w, req.WithContext(withGrant(req.Context(), g)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
