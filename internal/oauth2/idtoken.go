package oauth2

import (
	"github.com/golang-jwt/jwt/v5"

	"goauthentik.io/router/internal/constants"
)

// IDToken is the OpenID Connect ID token payload stored alongside issued
// tokens. See https://openid.net/specs/openid-connect-core-1_0.html#IDToken.
type IDToken struct {
	Issuer   string           `json:"iss,omitempty"`
	Subject  string           `json:"sub,omitempty"`
	Audience jwt.ClaimStrings `json:"aud,omitempty"`
	// Unix timestamps.
	ExpiresAt int64 `json:"exp,omitempty"`
	IssuedAt  int64 `json:"iat,omitempty"`
	AuthTime  int64 `json:"auth_time,omitempty"`
	// Authentication Context Class Reference.
	ACR string `json:"acr,omitempty"`
	// Authentication Methods References.
	AMR []string `json:"amr,omitempty"`
	// Code and access token hash values.
	CHash  string `json:"c_hash,omitempty"`
	AtHash string `json:"at_hash,omitempty"`
	Nonce  string `json:"nonce,omitempty"`

	Claims map[string]string `json:"claims,omitempty"`
}

// NewIDToken returns a token with the default ACR set.
func NewIDToken() IDToken {
	return IDToken{ACR: constants.ACRDefault}
}

// SignedString serializes the token as a JWT signed with the given method
// and key.
func (t *IDToken) SignedString(method jwt.SigningMethod, key any) (string, error) {
	claims := jwt.MapClaims{}
	if t.Issuer != "" {
		claims["iss"] = t.Issuer
	}
	if t.Subject != "" {
		claims["sub"] = t.Subject
	}
	if len(t.Audience) > 0 {
		claims["aud"] = t.Audience
	}
	if t.ExpiresAt != 0 {
		claims["exp"] = t.ExpiresAt
	}
	if t.IssuedAt != 0 {
		claims["iat"] = t.IssuedAt
	}
	if t.AuthTime != 0 {
		claims["auth_time"] = t.AuthTime
	}
	if t.ACR != "" {
		claims["acr"] = t.ACR
	}
	if len(t.AMR) > 0 {
		claims["amr"] = t.AMR
	}
	if t.CHash != "" {
		claims["c_hash"] = t.CHash
	}
	if t.AtHash != "" {
		claims["at_hash"] = t.AtHash
	}
	if t.Nonce != "" {
		claims["nonce"] = t.Nonce
	}
	for k, v := range t.Claims {
		claims[k] = v
	}
	return jwt.NewWithClaims(method, claims).SignedString(key)
}
