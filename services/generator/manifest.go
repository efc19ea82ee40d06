package generator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"thermobaric/pkg/archive"
)

const (
	manifestVersion = "1"
	manifestSuffix  = ".manifest.yaml"
)

// Manifest is the sidecar describing a generated archive.
type Manifest struct {
	Version          string          `yaml:"version"`
	CreatedAt        time.Time       `yaml:"created_at"`
	Signer           string          `yaml:"signer,omitempty"`
	SigningPublicKey string          `yaml:"signing_public_key,omitempty"`
	Signature        string          `yaml:"signature,omitempty"`
	Strategy         Strategy        `yaml:"strategy"`
	CompressionLevel int             `yaml:"compression_level"`
	PayloadSize      uint64          `yaml:"payload_size,omitempty"`
	ExpandedSize     uint64          `yaml:"expanded_size"`
	Depth            int             `yaml:"depth,omitempty"`
	Archive          ManifestArchive `yaml:"archive"`
	Entries          []archive.Entry `yaml:"entries"`
}

// ManifestArchive identifies the archive a manifest describes. Path is
// relative to the manifest.
type ManifestArchive struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// ManifestPath is where the sidecar for archivePath is written.
func ManifestPath(archivePath string) string {
	return archivePath + manifestSuffix
}

// SigningBytes marshals the manifest without its signature.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// NewManifest hashes the archive behind res and describes it.
func NewManifest(res *Result, now time.Time) (*Manifest, error) {
	if res == nil {
		return nil, errors.New("result is required")
	}
	digest, size, err := archive.Digest(res.Path)
	if err != nil {
		return nil, ioError("read", res.Path, err)
	}
	return &Manifest{
		Version:          manifestVersion,
		CreatedAt:        now.UTC().Truncate(time.Second),
		Strategy:         res.Strategy,
		CompressionLevel: res.CompressionLevel,
		PayloadSize:      res.PayloadSize,
		ExpandedSize:     res.ExpandedSize,
		Depth:            res.Depth,
		Archive: ManifestArchive{
			Path:   filepath.Base(res.Path),
			Size:   size,
			SHA256: digest,
		},
		Entries: res.Entries,
	}, nil
}

// WriteManifest signs m when signer is non-nil and writes it to path.
func WriteManifest(path string, m *Manifest, signer *Signer) error {
	if signer != nil {
		m.Signer = signer.Recipient()
		m.SigningPublicKey = signer.PublicKeyBase64()
		payload, err := m.SigningBytes()
		if err != nil {
			return fmt.Errorf("marshal manifest for signing: %w", err)
		}
		sig, err := signer.Sign(payload)
		if err != nil {
			return fmt.Errorf("sign manifest: %w", err)
		}
		m.Signature = sig
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ioError("write", path, err)
	}
	return nil
}

// VerifyManifest loads the manifest at path, checks its signature when it
// carries one, and checks the archive beside it against the recorded hash.
// Signatures are checked against signer's key only. requireSignature
// rejects unsigned manifests.
func VerifyManifest(path string, signer *Signer, requireSignature bool) (*Manifest, error) {
	if requireSignature && !signer.HasKey() {
		return nil, ErrNoTrustedKey
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError("read", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", m.Version)
	}

	switch {
	case m.Signature != "":
		payload, err := m.SigningBytes()
		if err != nil {
			return nil, fmt.Errorf("marshal manifest for verification: %w", err)
		}
		if err := signer.Verify(payload, m.Signature, m.SigningPublicKey); err != nil {
			return nil, fmt.Errorf("verify manifest signature: %w", err)
		}
	case requireSignature:
		return nil, errors.New("manifest missing signature")
	}

	if m.Archive.Path == "" || filepath.Base(m.Archive.Path) != m.Archive.Path {
		return nil, fmt.Errorf("manifest archive path %q must be a bare file name", m.Archive.Path)
	}
	archivePath := filepath.Join(filepath.Dir(path), m.Archive.Path)
	digest, size, err := archive.Digest(archivePath)
	if err != nil {
		return nil, ioError("read", archivePath, err)
	}
	if size != m.Archive.Size {
		return nil, fmt.Errorf("size mismatch for %q: expected %d got %d", m.Archive.Path, m.Archive.Size, size)
	}
	if !strings.EqualFold(digest, m.Archive.SHA256) {
		return nil, fmt.Errorf("sha256 mismatch for %q", m.Archive.Path)
	}
	return &m, nil
}
