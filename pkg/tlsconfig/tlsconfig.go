// Package tlsconfig selects a TLS version/cipher-suite profile for the
// server's listening sockets. A profile is just a named (min, max) version
// range plus the cipher-suite list that range implies; operators pick one
// by name (config.SecurityConfig.Profile) instead of enumerating raw
// crypto/tls constants.
package tlsconfig

import "crypto/tls"

// TLS protocol version identifiers, re-exported so callers naming a
// profile's Min/Max never need to import crypto/tls themselves.
const (
	VersionSSL30 uint16 = tls.VersionSSL30
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// VersionProfile is a named (min, max) TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// ProfileModern accepts TLS 1.3 only.
	ProfileModern = VersionProfile{
		Min:         VersionTLS13,
		Max:         VersionTLS13,
		Description: "TLS 1.3 only - maximum security, modern clients only",
	}

	// ProfileSecure accepts TLS 1.2 and 1.3. This is the default profile.
	ProfileSecure = VersionProfile{
		Min:         VersionTLS12,
		Max:         VersionTLS13,
		Description: "TLS 1.2+ - secure and widely compatible",
	}

	// ProfileCompatible accepts TLS 1.0 through 1.3, for clients that
	// cannot be upgraded past TLS 1.0.
	ProfileCompatible = VersionProfile{
		Min:         VersionTLS10,
		Max:         VersionTLS13,
		Description: "TLS 1.0+ - maximum compatibility, includes deprecated versions",
	}

	// ProfileLegacy accepts SSL 3.0 through TLS 1.3. Exists for clients
	// that cannot speak anything newer; every version below TLS 1.2 is
	// known-insecure.
	ProfileLegacy = VersionProfile{
		Min:         VersionSSL30,
		Max:         VersionTLS13,
		Description: "SSL 3.0+ - legacy compatibility, includes insecure versions",
	}
)

// Cipher suites paired with each profile's minimum version, ordered by
// security strength (strongest first). TLS 1.3 needs no entry here: the
// stdlib always picks from its own fixed, non-configurable suite list.
var (
	cipherSuitesTLS12Secure = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}

	cipherSuitesTLS12Compatible = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
		tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	}

	cipherSuitesLegacy = []uint16{
		tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_RSA_WITH_AES_128_CBC_SHA256,
		tls.TLS_RSA_WITH_AES_128_CBC_SHA,
		tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
	}
)

// ApplyVersionProfile sets cfg's version range from profile.
func ApplyVersionProfile(cfg *tls.Config, profile VersionProfile) {
	cfg.MinVersion = profile.Min
	cfg.MaxVersion = profile.Max
}

// ApplyCipherSuites sets cfg's cipher suites for the given minimum
// version. TLS 1.3 is left at nil since the stdlib ignores CipherSuites
// once MinVersion reaches it.
func ApplyCipherSuites(cfg *tls.Config, minVersion uint16) {
	switch {
	case minVersion >= VersionTLS13:
		cfg.CipherSuites = nil
	case minVersion >= VersionTLS12:
		cfg.CipherSuites = cipherSuitesTLS12Secure
	case minVersion >= VersionTLS10:
		cfg.CipherSuites = cipherSuitesTLS12Compatible
	default:
		cfg.CipherSuites = cipherSuitesLegacy
	}
}
