// Package dtls declares the DTLS-SRTP contract named in §6 as a Go
// interface, plus a default implementation that loads the real
// certificate pair into a tls.Certificate and exposes it as the shared
// SSL context, without performing the DTLS handshake itself.
//
// As with package ice, §1 scopes the DTLS-SRTP stack out of this core on
// purpose; github.com/pion/dtls is deliberately not imported here — see
// DESIGN.md.
package dtls

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
)

// Context is the DTLS-SRTP collaborator contract: it owns the shared SSL
// context (the loaded certificate pair) used both for the HTTPS listener
// and for DTLS fingerprinting.
type Context interface {
	// Init loads the PEM certificate and key files into memory, per the
	// design note to read until EOF rather than rely on a file-size
	// pre-read (avoiding the ftell text-mode quirk called out in §9).
	Init(certPEMPath, certKeyPath string) error
	// Certificate returns the loaded certificate pair.
	Certificate() tls.Certificate
	// Fingerprint returns the certificate's DTLS fingerprint string, used
	// to populate the gateway's own identity in sdp.Merge.
	Fingerprint() string
}

type defaultContext struct {
	cert        tls.Certificate
	fingerprint string
}

// NewDefaultContext returns the bundled DTLS-SRTP stand-in.
func NewDefaultContext() Context {
	return &defaultContext{}
}

func (c *defaultContext) Init(certPEMPath, certKeyPath string) error {
	certPEM, err := os.ReadFile(certPEMPath)
	if err != nil {
		return fmt.Errorf("dtls: reading certificate %q: %w", certPEMPath, err)
	}
	keyPEM, err := os.ReadFile(certKeyPath)
	if err != nil {
		return fmt.Errorf("dtls: reading certificate key %q: %w", certKeyPath, err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("dtls: parsing certificate pair: %w", err)
	}
	c.cert = cert
	c.fingerprint = fingerprintFor(cert)
	return nil
}

func (c *defaultContext) Certificate() tls.Certificate { return c.cert }
func (c *defaultContext) Fingerprint() string           { return c.fingerprint }

// fingerprintFor renders a SHA-256 colon-separated fingerprint string in
// the form SDP expects for "a=fingerprint:sha-256 ...".
func fingerprintFor(cert tls.Certificate) string {
	if len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(cert.Certificate[0])
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return "sha-256 " + strings.Join(parts, ":")
}
