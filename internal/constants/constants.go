// Package constants holds build-wide identifiers shared across the router.
package constants

const (
	// Version is the build version reported in response headers and
	// error-reporting releases.
	Version = "0.1.0"

	// HealthUserAgent identifies the supervisor's liveness probe requests.
	HealthUserAgent = "goauthentik.io/router/healthcheck"

	// PoweredBy is set on every proxied response.
	PoweredBy = "authentik"

	// ACRDefault is the default Authentication Context Class Reference
	// emitted in ID tokens.
	ACRDefault = "goauthentik.io/core/default"
)
