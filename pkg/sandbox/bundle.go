package sandbox

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/envelope"
)

// Bundle layout inside the tar archive.
const (
	ManifestEntry = "manifest.json"
	WasmEntry     = "strategy.wasm"

	// maxWasmBytes caps the guest binary. A strategy module bigger than
	// this is almost certainly not a strategy.
	maxWasmBytes = 32 << 20
)

// RuntimeVersion is the host protocol/runtime version that manifest
// constraints are evaluated against.
const RuntimeVersion = "1.0.0"

// Manifest describes one strategy bundle.
type Manifest struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
	// Runtime is a semver constraint on the host runtime, e.g. ">=1.0.0 <2.0.0".
	Runtime string `json:"runtime"`
	Author  string `json:"author,omitempty"`
}

// Bundle is a parsed, verified strategy bundle.
type Bundle struct {
	Manifest Manifest
	Wasm     []byte
	// Digest is the SHA-256 of the full archive bytes; it is the bundle's
	// identity everywhere it is logged or stored.
	Digest string
	// ManifestHash is the SHA-256 of the canonicalized manifest JSON.
	ManifestHash string
}

// WriteBundle packages a manifest and wasm binary into a tar archive.
func WriteBundle(w io.Writer, manifest Manifest, wasm []byte) error {
	if err := validateManifest(manifest); err != nil {
		return err
	}
	if len(wasm) == 0 {
		return fmt.Errorf("sandbox: bundle has empty wasm binary")
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("sandbox: encode manifest: %w", err)
	}

	tw := tar.NewWriter(w)
	// Fixed mtime keeps identical content producing identical digests.
	epoch := time.Unix(0, 0).UTC()
	entries := []struct {
		name string
		body []byte
	}{
		{ManifestEntry, manifestJSON},
		{WasmEntry, wasm},
	}
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    0o444,
			Size:    int64(len(e.body)),
			ModTime: epoch,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("sandbox: write %s header: %w", e.name, err)
		}
		if _, err := tw.Write(e.body); err != nil {
			return fmt.Errorf("sandbox: write %s: %w", e.name, err)
		}
	}
	return tw.Close()
}

// ReadBundle parses and verifies a bundle archive. It checks the manifest
// shape, the protocol version, and the host runtime constraint; a bundle
// that fails any check never reaches the runtime.
func ReadBundle(r io.Reader) (*Bundle, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxWasmBytes+1<<20))
	if err != nil {
		return nil, fmt.Errorf("sandbox: read bundle: %w", err)
	}
	sum := sha256.Sum256(raw)

	var manifestJSON, wasm []byte
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sandbox: corrupt bundle archive: %w", err)
		}
		switch hdr.Name {
		case ManifestEntry:
			manifestJSON, err = io.ReadAll(tr)
		case WasmEntry:
			wasm, err = io.ReadAll(io.LimitReader(tr, maxWasmBytes))
		default:
			// Unexpected entries make the bundle suspect.
			return nil, fmt.Errorf("sandbox: unexpected bundle entry %q", hdr.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("sandbox: read bundle entry %s: %w", hdr.Name, err)
		}
	}
	if manifestJSON == nil {
		return nil, fmt.Errorf("sandbox: bundle is missing %s", ManifestEntry)
	}
	if len(wasm) == 0 {
		return nil, fmt.Errorf("sandbox: bundle is missing %s", WasmEntry)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("sandbox: decode manifest: %w", err)
	}
	if err := validateManifest(manifest); err != nil {
		return nil, err
	}
	if err := checkRuntimeConstraint(manifest.Runtime); err != nil {
		return nil, err
	}

	canonical, err := envelope.Canonicalize(manifestJSON)
	if err != nil {
		return nil, fmt.Errorf("sandbox: canonicalize manifest: %w", err)
	}
	manifestSum := sha256.Sum256(canonical)

	return &Bundle{
		Manifest:     manifest,
		Wasm:         wasm,
		Digest:       hex.EncodeToString(sum[:]),
		ManifestHash: hex.EncodeToString(manifestSum[:]),
	}, nil
}

func validateManifest(m Manifest) error {
	if !ValidID(m.Name) {
		return fmt.Errorf("sandbox: manifest name %q is not a valid identifier", m.Name)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("sandbox: manifest version %q: %w", m.Version, err)
	}
	if m.Protocol != ProtocolV1 {
		return fmt.Errorf("sandbox: manifest protocol %q, host speaks %q", m.Protocol, ProtocolV1)
	}
	if m.Runtime == "" {
		return fmt.Errorf("sandbox: manifest is missing a runtime constraint")
	}
	return nil
}

func checkRuntimeConstraint(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("sandbox: runtime constraint %q: %w", constraint, err)
	}
	host := semver.MustParse(RuntimeVersion)
	if !c.Check(host) {
		return fmt.Errorf("sandbox: bundle requires runtime %q, host is %s", constraint, RuntimeVersion)
	}
	return nil
}
