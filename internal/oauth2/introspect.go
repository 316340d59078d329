package oauth2

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uptrace/bun"
)

// IntrospectionResponse is the RFC 7662 token metadata answer.
type IntrospectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// Introspector answers OAuth2 token introspection for the provider that
// authenticates the call. It receives its store at construction; the proxy
// core never sees the database.
type Introspector struct {
	db  bun.IDB
	log *slog.Logger
}

func NewIntrospector(db bun.IDB, log *slog.Logger) *Introspector {
	return &Introspector{db: db, log: log}
}

// clientCredentials pulls client_id/client_secret from the Basic
// authorization header, falling back to the form fields. Empty components
// never authenticate.
func clientCredentials(r *http.Request) (string, string, bool) {
	if id, secret, ok := r.BasicAuth(); ok && id != "" && secret != "" {
		return id, secret, true
	}
	id := r.PostFormValue("client_id")
	secret := r.PostFormValue("client_secret")
	if id != "" && secret != "" {
		return id, secret, true
	}
	return "", "", false
}

func (i *Introspector) authenticate(ctx context.Context, r *http.Request) (*OAuth2Provider, error) {
	id, secret, ok := clientCredentials(r)
	if !ok {
		return nil, nil
	}

	provider := new(OAuth2Provider)
	err := i.db.NewSelect().Model(provider).Where("client_id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(provider.ClientSecret), []byte(secret)) != 1 {
		return nil, nil
	}
	return provider, nil
}

// Handler serves POST /application/o/introspect/.
func (i *Introspector) Handler(c *gin.Context) {
	ctx := c.Request.Context()

	provider, err := i.authenticate(ctx, c.Request)
	if err != nil {
		i.log.Warn("introspection provider lookup failed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if provider == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	token := c.PostForm("token")
	if token == "" {
		c.JSON(http.StatusOK, IntrospectionResponse{Active: false})
		return
	}

	access := new(AccessToken)
	err = i.db.NewSelect().Model(access).
		Where("provider_id = ?", provider.ProviderPtrID).
		Where("token = ?", token).
		Scan(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, tokenResponse(provider, access.Revoked, access.IsExpired(), access.Scope, access.Expires.Unix()))
		return
	case !errors.Is(err, sql.ErrNoRows):
		i.log.Warn("introspection token lookup failed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	refresh := new(RefreshToken)
	err = i.db.NewSelect().Model(refresh).
		Where("provider_id = ?", provider.ProviderPtrID).
		Where("token = ?", token).
		Scan(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, tokenResponse(provider, refresh.Revoked, refresh.IsExpired(), refresh.Scope, refresh.Expires.Unix()))
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusOK, IntrospectionResponse{Active: false})
	default:
		i.log.Warn("introspection token lookup failed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

func tokenResponse(provider *OAuth2Provider, revoked, expired bool, scope string, exp int64) IntrospectionResponse {
	if revoked || expired {
		return IntrospectionResponse{Active: false}
	}
	return IntrospectionResponse{
		Active:   true,
		Scope:    scope,
		ClientID: provider.ClientID,
		Exp:      exp,
	}
}
