package generator

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	envAgeSecretKey = "AGE_SECRET_KEY"
	envAgePublicKey = "AGE_PUBLIC_KEY"
)

// Signer signs and verifies manifests with an Ed25519 key whose seed is an
// age X25519 secret key.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// SignerConfigured reports whether either signing variable is set.
func SignerConfigured() bool {
	return strings.TrimSpace(os.Getenv(envAgeSecretKey)) != "" || strings.TrimSpace(os.Getenv(envAgePublicKey)) != ""
}

// NewSignerFromEnv builds a Signer from AGE_SECRET_KEY and/or AGE_PUBLIC_KEY.
// AGE_PUBLIC_KEY is the base64 Ed25519 public key; with only it set the
// signer can verify but not sign.
func NewSignerFromEnv() (*Signer, error) {
	return NewSigner(os.Getenv(envAgeSecretKey), os.Getenv(envAgePublicKey))
}

// NewSigner builds a Signer from an age secret key, a base64 public key,
// or both. When both are given they must describe the same key pair.
func NewSigner(secret, pub string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	pub = strings.TrimSpace(pub)
	if secret == "" && pub == "" {
		return nil, fmt.Errorf("%s or %s must be set", envAgeSecretKey, envAgePublicKey)
	}

	s := &Signer{}
	if secret != "" {
		seed, err := decodeAgeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
		}
		s.privateKey = ed25519.NewKeyFromSeed(seed)
		s.publicKey = ed25519.PublicKey(s.privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secret); err == nil {
			s.recipient = identity.Recipient().String()
		}
	}

	if pub != "" {
		decoded, err := decodePublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envAgePublicKey, err)
		}
		if s.publicKey == nil {
			s.publicKey = decoded
		} else if !bytes.Equal(s.publicKey, decoded) {
			return nil, fmt.Errorf("%s does not match %s", envAgePublicKey, envAgeSecretKey)
		}
	}
	return s, nil
}

// Sign returns a base64 Ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil {
		return "", errors.New("nil signer")
	}
	if len(s.privateKey) == 0 {
		return "", errors.New("signer configured without private key")
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, payload)), nil
}

// ErrNoTrustedKey is returned when a signature must be checked but no key
// was configured through AGE_SECRET_KEY or AGE_PUBLIC_KEY.
var ErrNoTrustedKey = errors.New("no trusted public key")

// HasKey reports whether s carries a public key to verify against.
func (s *Signer) HasKey() bool {
	return s != nil && len(s.publicKey) == ed25519.PublicKeySize
}

// Verify checks signature over payload against the signer's own key. The
// key a manifest embeds is only compared with it, never trusted alone.
func (s *Signer) Verify(payload []byte, signature, embeddedKey string) error {
	if !s.HasKey() {
		return ErrNoTrustedKey
	}
	if embeddedKey != "" {
		decoded, err := decodePublicKey(strings.TrimSpace(embeddedKey))
		if err != nil {
			return fmt.Errorf("decode manifest public key: %w", err)
		}
		if !bytes.Equal(s.publicKey, decoded) {
			return errors.New("manifest signed by unexpected key")
		}
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}
	if !ed25519.Verify(s.publicKey, payload, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the configured Ed25519 public key in base64 form.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient returns the age recipient when the signer holds a secret key.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodePublicKey(raw string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if l := len(decoded); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return ed25519.PublicKey(decoded), nil
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
