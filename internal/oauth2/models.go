// Package oauth2 holds the OAuth2 provider models and the token
// introspection handler registered on the front-end router.
package oauth2

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Provider is the base provider row every concrete provider points at.
type Provider struct {
	bun.BaseModel `bun:"table:authentik_core_provider,alias:p"`

	ID   int32  `bun:"id,pk,autoincrement"`
	Name string `bun:"name"`
}

// OAuth2Provider carries the client credentials used to authenticate
// introspection calls.
type OAuth2Provider struct {
	bun.BaseModel `bun:"table:authentik_providers_oauth2_oauth2provider,alias:op"`

	ProviderPtrID int32  `bun:"provider_ptr_id,pk"`
	ClientID      string `bun:"client_id"`
	ClientSecret  string `bun:"client_secret"`
}

// AccessToken is an issued access token together with its serialized ID
// token.
type AccessToken struct {
	bun.BaseModel `bun:"table:authentik_providers_oauth2_accesstoken,alias:at"`

	ID         int32     `bun:"id,pk,autoincrement"`
	ProviderID int32     `bun:"provider_id"`
	Revoked    bool      `bun:"revoked"`
	Expires    time.Time `bun:"expires,nullzero"`
	Expiring   bool      `bun:"expiring"`
	Scope      string    `bun:"_scope"`
	Token      string    `bun:"token"`
	RawIDToken string    `bun:"_id_token"`
}

func (t *AccessToken) ScopeList() []string {
	return strings.Split(t.Scope, " ")
}

func (t *AccessToken) IDToken() (*IDToken, error) {
	var idt IDToken
	if err := json.Unmarshal([]byte(t.RawIDToken), &idt); err != nil {
		return nil, err
	}
	return &idt, nil
}

func (t *AccessToken) IsExpired() bool {
	return t.Expiring && time.Now().After(t.Expires)
}

func (t *AccessToken) ExpireAction(ctx context.Context, db bun.IDB) error {
	_, err := db.NewDelete().Model(t).WherePK().Exec(ctx)
	return err
}

// RefreshToken mirrors AccessToken for the refresh grant.
type RefreshToken struct {
	bun.BaseModel `bun:"table:authentik_providers_oauth2_refreshtoken,alias:rt"`

	ID         int32     `bun:"id,pk,autoincrement"`
	ProviderID int32     `bun:"provider_id"`
	Revoked    bool      `bun:"revoked"`
	Expires    time.Time `bun:"expires,nullzero"`
	Expiring   bool      `bun:"expiring"`
	Scope      string    `bun:"_scope"`
	Token      string    `bun:"token"`
	RawIDToken string    `bun:"_id_token"`
}

func (t *RefreshToken) ScopeList() []string {
	return strings.Split(t.Scope, " ")
}

func (t *RefreshToken) IDToken() (*IDToken, error) {
	var idt IDToken
	if err := json.Unmarshal([]byte(t.RawIDToken), &idt); err != nil {
		return nil, err
	}
	return &idt, nil
}

func (t *RefreshToken) IsExpired() bool {
	return t.Expiring && time.Now().After(t.Expires)
}

func (t *RefreshToken) ExpireAction(ctx context.Context, db bun.IDB) error {
	_, err := db.NewDelete().Model(t).WherePK().Exec(ctx)
	return err
}

var (
	_ ExpiringModel = (*AccessToken)(nil)
	_ ExpiringModel = (*RefreshToken)(nil)
)
