package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"zkledger/observability/logging"
)

// Role grants access to a class of JSON-RPC methods.
type Role string

const (
	RolePublic   Role = "public"
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

const rolesClaim = "roles"

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Principal is the authenticated caller. Subject is the caller's base-ledger
// address for user tokens.
type Principal struct {
	Subject string
	Roles   []Role
}

// Has reports whether p carries role. Admins hold every role.
func (p *Principal) Has(role Role) bool {
	if role == RolePublic {
		return true
	}
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

type contextKey struct{}

// PrincipalFrom returns the principal attached by the authenticator, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok && p != nil
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Middleware resolves a bearer token into a Principal. Requests without a
// token pass through anonymously so public methods stay reachable; a token
// that fails validation is rejected outright.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(header)
		if tokenString == "" {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		principal, err := a.Authenticate(tokenString)
		if err != nil {
			a.logger.Warn("auth: token rejected", logging.MaskField("token", tokenString), "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Authenticate validates tokenString and extracts its principal.
func (a *Authenticator) Authenticate(tokenString string) (*Principal, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	return &Principal{Subject: strings.TrimSpace(subject), Roles: extractRoles(claims)}, nil
}

// IssueToken signs an HS256 token for subject carrying roles.
func IssueToken(secret, issuer, audience, subject string, roles []Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret not configured")
	}
	now := time.Now()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	claims := jwt.MapClaims{
		"sub":      subject,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
		rolesClaim: names,
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractRoles(claims jwt.MapClaims) []Role {
	var names []string
	switch v := claims[rolesClaim].(type) {
	case string:
		names = strings.Fields(v)
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				names = append(names, s)
			}
		}
	}
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		switch role := Role(strings.ToLower(strings.TrimSpace(name))); role {
		case RoleUser, RoleOperator, RoleAdmin:
			roles = append(roles, role)
		}
	}
	return roles
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
