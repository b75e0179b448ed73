package tlsengine

import (
	"crypto/tls"
	"fmt"

	"github.com/WhileEndless/go-rawserver/pkg/tlsconfig"
)

// SecurityConfig names a certificate/key pair and a version/cipher profile
// using tlsconfig.VersionProfile, so an operator can select a named
// security profile without enumerating TLS versions and cipher suites
// directly.
type SecurityConfig struct {
	CertPEM []byte
	KeyPEM  []byte
	Profile tlsconfig.VersionProfile
}

// BuildServerConfig turns a SecurityConfig into a crypto/tls.Config ready to
// hand to NewServerEngine, applying the named version profile and the
// matching recommended cipher-suite set.
func BuildServerConfig(sc SecurityConfig) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(sc.CertPEM, sc.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsengine: load certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	tlsconfig.ApplyVersionProfile(cfg, sc.Profile)
	tlsconfig.ApplyCipherSuites(cfg, sc.Profile.Min)
	return cfg, nil
}
