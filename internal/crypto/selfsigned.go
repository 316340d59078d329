// Package crypto generates the router's ephemeral TLS material. The
// certificate lives only for the lifetime of the HTTPS listener and is
// regenerated on every boot.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

const (
	certCommonName   = "authentik default certificate"
	certOrganization = "authentik"
	certValidity     = 365 * 24 * time.Hour
	rsaBits          = 2048
)

// GenerateSelfSigned builds a fresh RSA key pair and a self-signed X.509v3
// certificate: 128-bit random serial, one year validity, server-auth usage
// and a wildcard DNS SAN.
func GenerateSelfSigned() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("crypto: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("crypto: generate serial: %w", err)
	}

	name := pkix.Name{
		CommonName:   certCommonName,
		Organization: []string{certOrganization},
	}
	now := time.Now()
	// Issuer is taken from the parent certificate; passing the template as
	// its own parent makes this self-signed with issuer == subject.
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		NotBefore:             now,
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{"*"},
		IsCA:                  true,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("crypto: create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("crypto: parse certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// TLSConfig returns a server configuration for cert matching the Mozilla
// intermediate profile: TLS 1.2 minimum with the modern AEAD suites.
func TLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}
