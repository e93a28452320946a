// Package certs provisions the self-signed certificate served by the admin
// API when TLS is enabled.
package certs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/toolbox/internal/logging"
	"github.com/danmuck/toolbox/internal/tools"
)

var ErrGenerate = errors.New("certs: generate certificate")

const (
	CommonName = "toolbox"
	keyBits    = 2048
	validity   = 10 * 365 * 24 * time.Hour
)

// Generator produces a key pair at the given paths.
type Generator struct {
	Runner tools.CommandRunner
	// Now is overridable for tests.
	Now func() time.Time
}

// Ensure makes sure certPath and keyPath exist, generating them with the
// host's openssl, then openssl under wsl, then in process.
func Ensure(ctx context.Context, certPath, keyPath string) error {
	return Generator{Runner: tools.ExecRunner{}}.Ensure(ctx, certPath, keyPath)
}

func (g Generator) Ensure(ctx context.Context, certPath, keyPath string) error {
	log := logging.For("certs")
	if exists(certPath) && exists(keyPath) {
		return nil
	}
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrGenerate, err)
		}
	}

	if g.Runner != nil {
		openssl := tools.Attempt{Name: "openssl", Args: []string{
			"req", "-x509", "-newkey", fmt.Sprintf("rsa:%d", keyBits),
			"-keyout", keyPath, "-out", certPath,
			"-sha256", "-days", "3650", "-nodes",
			"-subj", "/CN=" + CommonName,
		}}
		_, err := tools.RunFirst(ctx, g.Runner, openssl, tools.ViaWSL(openssl))
		if err == nil && exists(certPath) && exists(keyPath) {
			log.Info().Str("cert", certPath).Msg("certificate generated with openssl")
			return nil
		}
		log.Warn().Err(err).Msg("openssl unavailable, generating certificate in process")
	}

	if err := g.generate(certPath, keyPath); err != nil {
		_ = os.Remove(certPath)
		_ = os.Remove(keyPath)
		return fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	log.Info().Str("cert", certPath).Msg("certificate generated in process")
	return nil
}

func (g Generator) generate(certPath, keyPath string) error {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: CommonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{CommonName, "localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return err
	}
	return writePEM(certPath, "CERTIFICATE", der, 0o644)
}

func writePEM(path string, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, perm)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
