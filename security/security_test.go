// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fluxgate/hook"
	"github.com/absmach/fluxgate/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStores struct {
	truststore string
	keystore   string
	encrypted  string
}

func writeStores(t *testing.T, keyPassword string) testStores {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "gateway"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caCert, &clientKey.PublicKey, caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(clientKey)
	require.NoError(t, err)

	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: clientDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	//nolint:staticcheck
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER, []byte(keyPassword), x509.PEMCipherAES256)
	require.NoError(t, err)

	stores := testStores{
		truststore: filepath.Join(dir, "ca.pem"),
		keystore:   filepath.Join(dir, "client.pem"),
		encrypted:  filepath.Join(dir, "client-enc.pem"),
	}
	require.NoError(t, os.WriteFile(stores.truststore, caPEM, 0o600))
	require.NoError(t, os.WriteFile(stores.keystore, append(certPEM, keyPEM...), 0o600))
	require.NoError(t, os.WriteFile(stores.encrypted, append(certPEM, pem.EncodeToMemory(encBlock)...), 0o600))
	return stores
}

func mustAddress(t *testing.T, raw string) resolver.Address {
	t.Helper()
	addr, err := resolver.ParseAddress(raw)
	require.NoError(t, err)
	return addr
}

func TestResolvePlaintextReturnsNil(t *testing.T) {
	r := New(nil)

	m, err := r.Resolve(mustAddress(t, "tcp://broker:1883"), nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = r.Resolve(mustAddress(t, "mqtt://broker:1883"), &hook.SecurityParams{Protocol: "bogus"})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveSecureDefaults(t *testing.T) {
	for _, raw := range []string{"mqtts://broker.example:8883", "ssl://broker.example:8883"} {
		t.Run(raw, func(t *testing.T) {
			m, err := New(nil).Resolve(mustAddress(t, raw), nil)
			require.NoError(t, err)
			require.NotNil(t, m)

			assert.Equal(t, DefaultProtocol, m.Protocol)
			assert.Equal(t, uint16(tls.VersionTLS12), m.TLS.MinVersion)
			assert.Nil(t, m.TLS.RootCAs)
			assert.Empty(t, m.TLS.Certificates)
			assert.Equal(t, "broker.example", m.TLS.ServerName)
			assert.Equal(t, "TLSv1.2 with platform roots", Status(m))
		})
	}
}

func TestResolveProtocols(t *testing.T) {
	tests := []struct {
		protocol string
		want     uint16
	}{
		{protocol: "TLS", want: tls.VersionTLS12},
		{protocol: "TLSv1", want: tls.VersionTLS10},
		{protocol: "TLSv1.1", want: tls.VersionTLS11},
		{protocol: "tlsv1.2", want: tls.VersionTLS12},
		{protocol: "TLSv1.3", want: tls.VersionTLS13},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			m, err := New(nil).Resolve(mustAddress(t, "mqtts://broker:8883"), &hook.SecurityParams{Protocol: tt.protocol})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.TLS.MinVersion)
			assert.Equal(t, tt.protocol, m.Protocol)
		})
	}
}

func TestResolveStores(t *testing.T) {
	stores := writeStores(t, "secret")

	m, err := New(nil).Resolve(mustAddress(t, "mqtts://broker:8883"), &hook.SecurityParams{
		TruststorePath: stores.truststore,
		KeystorePath:   stores.keystore,
	})
	require.NoError(t, err)
	assert.NotNil(t, m.TLS.RootCAs)
	require.Len(t, m.TLS.Certificates, 1)
	assert.Equal(t, "TLSv1.2 with custom truststore and client certificate", Status(m))

	m, err = New(nil).Resolve(mustAddress(t, "mqtts://broker:8883"), &hook.SecurityParams{
		KeystorePath:       stores.encrypted,
		PrivateKeyPassword: "secret",
	})
	require.NoError(t, err)
	require.Len(t, m.TLS.Certificates, 1)
}

func TestResolveFailuresAreSchemeMismatch(t *testing.T) {
	stores := writeStores(t, "secret")
	garbage := filepath.Join(t.TempDir(), "store.p12")
	require.NoError(t, os.WriteFile(garbage, []byte("not a keystore"), 0o600))

	tests := []struct {
		name   string
		params hook.SecurityParams
	}{
		{name: "unknown protocol", params: hook.SecurityParams{Protocol: "SSLv3"}},
		{name: "missing truststore", params: hook.SecurityParams{TruststorePath: "/nonexistent/ca.pem"}},
		{name: "missing keystore", params: hook.SecurityParams{KeystorePath: "/nonexistent/client.pem"}},
		{name: "unreadable pkcs12", params: hook.SecurityParams{TruststorePath: garbage, TruststorePassword: "x"}},
		{name: "wrong key password", params: hook.SecurityParams{KeystorePath: stores.encrypted, PrivateKeyPassword: "wrong"}},
		{name: "keystore without key", params: hook.SecurityParams{KeystorePath: stores.truststore}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			_, err := New(nil).Resolve(mustAddress(t, "ssl://broker:8883"), &params)
			require.ErrorIs(t, err, resolver.ErrSecureSchemeMismatch)

			var ce *resolver.ConfigError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "no TLS", Status(nil))
}
