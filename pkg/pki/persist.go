package pki

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Save persists a CA's certificate, CRL, and passphrase-encrypted private
// key into dir, named after the CA's own display name. The certificate and
// CRL are plaintext PEM (they are public by design); the private key never
// touches disk unencrypted.
func (ca *CA) Save(dir string, passphrase []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("pki: create CA dir: %w", err)
	}
	safe := safeName(ca.name)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw})
	if err := os.WriteFile(filepath.Join(dir, safe+".crt"), certPEM, 0o644); err != nil {
		return fmt.Errorf("pki: write CA cert: %w", err)
	}

	keyBlob, err := encryptKey(ca.priv, passphrase)
	if err != nil {
		return fmt.Errorf("pki: encrypt CA key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, safe+".key"), keyBlob, 0o600); err != nil {
		return fmt.Errorf("pki: write CA key: %w", err)
	}

	crl, err := ca.CRL()
	if err != nil {
		return fmt.Errorf("pki: build CRL for save: %w", err)
	}
	crlPEM := pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl.Raw})
	if err := os.WriteFile(filepath.Join(dir, safe+".crl"), crlPEM, 0o644); err != nil {
		return fmt.Errorf("pki: write CRL: %w", err)
	}
	return nil
}

// LoadCA reconstructs a CA from files previously written by Save. Revocation
// state is not persisted across CRL files by design (the CRL is a snapshot
// for distribution, not the source of truth) — a reloaded CA starts with an
// empty direct-revocation set; operators re-apply any revocations that must
// survive a restart through whatever durable store fronts Revoke calls.
func LoadCA(dir, name string, passphrase []byte) (*CA, error) {
	safe := safeName(name)

	certPEM, err := os.ReadFile(filepath.Join(dir, safe+".crt"))
	if err != nil {
		return nil, fmt.Errorf("pki: read CA cert: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("pki: no PEM block in CA cert file")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pki: parse CA cert: %w", err)
	}

	keyBlob, err := os.ReadFile(filepath.Join(dir, safe+".key"))
	if err != nil {
		return nil, fmt.Errorf("pki: read CA key: %w", err)
	}
	priv, err := decryptKey(keyBlob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("pki: decrypt CA key: %w", err)
	}

	return &CA{name: name, priv: priv, cert: cert, pool: map[int64]revocation{}, nextSerial: 1000}, nil
}

func safeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

const keyBlobInfo = "trustchain-pki-key-v1"

// encryptKey derives a per-file AES-256-GCM key from passphrase via HKDF
// (salted, so the same passphrase never reuses a key across files) and
// seals the raw Ed25519 private key bytes. Layout: salt(32) || nonce(12) ||
// ciphertext.
func encryptKey(priv ed25519.PrivateKey, passphrase []byte) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, priv, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptKey(blob, passphrase []byte) (ed25519.PrivateKey, error) {
	if len(blob) < 32+12 {
		return nil, fmt.Errorf("pki: key blob too short")
	}
	salt, rest := blob[:32], blob[32:]
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("pki: key blob missing nonce")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("pki: wrong passphrase or corrupted key file: %w", err)
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("pki: unexpected decrypted key size %d", len(plain))
	}
	return ed25519.PrivateKey(plain), nil
}

func deriveKey(passphrase, salt []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, passphrase, salt, []byte(keyBlobInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("pki: derive key: %w", err)
	}
	return key, nil
}
