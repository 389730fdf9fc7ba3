// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package security builds the TLS material used to reach brokers over
// encrypted channels.
package security

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/resolver"
	"golang.org/x/crypto/pkcs12"
)

// DefaultProtocol is used when the security parameters do not name one.
const DefaultProtocol = "TLSv1.2"

var (
	errUnknownProtocol = errors.New("unsupported security protocol")
	errNoCertificates  = errors.New("no certificates found")
	errNoPrivateKey    = errors.New("no private key found")
	errAppendCA        = errors.New("failed to append truststore certificates")
)

var protocols = map[string]uint16{
	"TLS":     tls.VersionTLS12,
	"TLSV1":   tls.VersionTLS10,
	"TLSV1.0": tls.VersionTLS10,
	"TLSV1.1": tls.VersionTLS11,
	"TLSV1.2": tls.VersionTLS12,
	"TLSV1.3": tls.VersionTLS13,
}

// Material is the resolved security material of one broker link.
type Material struct {
	Protocol string
	TLS      *tls.Config
}

// Resolver turns SecurityParams into TLS client configurations.
type Resolver struct {
	logger *slog.Logger
}

// New creates a security material resolver.
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve returns the material needed to reach addr. It returns nil for
// plaintext schemes. Every failure is a *resolver.ConfigError of kind
// resolver.ErrSecureSchemeMismatch.
func (r *Resolver) Resolve(addr resolver.Address, params *hook.SecurityParams) (*Material, error) {
	if !addr.Secure() {
		if params != nil && !params.IsZero() {
			r.logger.Warn("security parameters ignored for plaintext broker address",
				slog.String("address", addr.String()))
		}
		return nil, nil
	}

	var p hook.SecurityParams
	if params != nil {
		p = *params
	}

	protocol := strings.TrimSpace(p.Protocol)
	if protocol == "" {
		protocol = DefaultProtocol
	}
	minVersion, ok := protocols[strings.ToUpper(protocol)]
	if !ok {
		return nil, mismatch(addr, fmt.Errorf("%w: %s", errUnknownProtocol, protocol))
	}

	config := &tls.Config{
		MinVersion: minVersion,
		ServerName: addr.Host,
	}
	if minVersion < tls.VersionTLS13 {
		config.CipherSuites = []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		}
	}

	if p.TruststorePath != "" {
		pool, err := loadTruststore(p.TruststorePath, p.TruststorePassword)
		if err != nil {
			return nil, mismatch(addr, fmt.Errorf("truststore %s: %w", p.TruststorePath, err))
		}
		config.RootCAs = pool
	}

	if p.KeystorePath != "" {
		cert, err := loadKeystore(p.KeystorePath, p.KeystorePassword, p.PrivateKeyPassword)
		if err != nil {
			return nil, mismatch(addr, fmt.Errorf("keystore %s: %w", p.KeystorePath, err))
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return &Material{Protocol: protocol, TLS: config}, nil
}

// Status returns a short description of m for logging.
func Status(m *Material) string {
	if m == nil || m.TLS == nil {
		return "no TLS"
	}
	ret := m.Protocol
	if m.TLS.RootCAs == nil {
		ret += " with platform roots"
	} else {
		ret += " with custom truststore"
	}
	if len(m.TLS.Certificates) > 0 {
		ret += " and client certificate"
	}
	return ret
}

func mismatch(addr resolver.Address, err error) error {
	return &resolver.ConfigError{
		Kind:   resolver.ErrSecureSchemeMismatch,
		Detail: addr.String(),
		Err:    err,
	}
}

func loadTruststore(path, password string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	blocks, err := decode(data, password)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	var certs []byte
	for _, b := range blocks {
		if b.Type == "CERTIFICATE" {
			certs = append(certs, pem.EncodeToMemory(b)...)
		}
	}
	if len(certs) == 0 {
		return nil, errNoCertificates
	}
	if !pool.AppendCertsFromPEM(certs) {
		return nil, errAppendCA
	}
	return pool, nil
}

func loadKeystore(path, password, keyPassword string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	blocks, err := decode(data, password)
	if err != nil && keyPassword != "" && keyPassword != password && !isPEM(data) {
		blocks, err = decode(data, keyPassword)
	}
	if err != nil {
		return tls.Certificate{}, err
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		switch {
		case b.Type == "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(b)...)
		case strings.HasSuffix(b.Type, "PRIVATE KEY") && keyPEM == nil:
			key, err := decryptKey(b, keyPassword)
			if err != nil {
				return tls.Certificate{}, err
			}
			keyPEM = pem.EncodeToMemory(key)
		}
	}
	if certPEM == nil {
		return tls.Certificate{}, errNoCertificates
	}
	if keyPEM == nil {
		return tls.Certificate{}, errNoPrivateKey
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// decode reads PEM data as is and anything else as PKCS#12.
func decode(data []byte, password string) ([]*pem.Block, error) {
	if isPEM(data) {
		var blocks []*pem.Block
		rest := data
		for {
			var b *pem.Block
			b, rest = pem.Decode(rest)
			if b == nil {
				break
			}
			blocks = append(blocks, b)
		}
		return blocks, nil
	}
	return pkcs12.ToPEM(data, password)
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

//nolint:staticcheck
func decryptKey(b *pem.Block, password string) (*pem.Block, error) {
	if !x509.IsEncryptedPEMBlock(b) {
		return b, nil
	}
	der, err := x509.DecryptPEMBlock(b, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	return &pem.Block{Type: b.Type, Bytes: der}, nil
}
