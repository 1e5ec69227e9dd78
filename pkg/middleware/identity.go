package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/portalfs/pkg/contextkeys"
	"github.com/platinummonkey/portalfs/pkg/httputil"
)

// DefaultUserHeader is the header a trusted gateway uses to pass the caller's user id
const DefaultUserHeader = "X-User-ID"

// Claims is the identity carried by a verified bearer token
type Claims struct {
	Subject string
	Groups  []string
}

// TokenVerifier verifies a raw bearer token
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// OIDCConfig configures bearer token verification against an OIDC issuer
type OIDCConfig struct {
	IssuerURL       string
	ClientID        string
	GroupsClaim     string
	SkipIssuerCheck bool
}

// OIDCVerifier verifies ID tokens issued by an OIDC provider
type OIDCVerifier struct {
	verifier    *oidc.IDTokenVerifier
	groupsClaim string
}

// NewOIDCVerifier discovers the issuer and builds a verifier for its tokens
func NewOIDCVerifier(ctx context.Context, config OIDCConfig) (*OIDCVerifier, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:          config.ClientID,
		SkipClientIDCheck: config.ClientID == "",
		SkipIssuerCheck:   config.SkipIssuerCheck,
	})
	return newOIDCVerifier(verifier, config.GroupsClaim), nil
}

func newOIDCVerifier(verifier *oidc.IDTokenVerifier, groupsClaim string) *OIDCVerifier {
	if groupsClaim == "" {
		groupsClaim = "groups"
	}
	return &OIDCVerifier{verifier: verifier, groupsClaim: groupsClaim}
}

// Verify implements TokenVerifier
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return &Claims{
		Subject: idToken.Subject,
		Groups:  stringSlice(raw[v.groupsClaim]),
	}, nil
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Identity resolves the caller and stores it in the request context.
// A bearer token wins over the user header when a verifier is configured.
// Requests with neither are rejected with 401.
func Identity(userHeader string, verifier TokenVerifier) func(http.Handler) http.Handler {
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if token, ok := bearerToken(r); ok && verifier != nil {
				claims, err := verifier.Verify(ctx, token)
				if err != nil || claims.Subject == "" {
					httputil.WriteUnauthorized(w, "invalid bearer token")
					return
				}
				ctx = contextkeys.WithUserID(ctx, claims.Subject)
				if claims.Groups != nil {
					ctx = contextkeys.WithTeamIDs(ctx, claims.Groups)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			userID := strings.TrimSpace(r.Header.Get(userHeader))
			if userID == "" {
				httputil.WriteUnauthorized(w, "missing caller identity")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithUserID(ctx, userID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
