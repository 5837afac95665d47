// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package policy loads the operator-facing configuration that governs how
// strict the patch applicator is about signature verification. The file
// also carries a default-backup setting and per-tier download timeout
// overrides; these are decoded, but no other package reads them.
//
// This resolves the signature-verification Open Question left by spec.md
// §7/§9: the spec mandates a signature *format* check but leaves the exact
// verification mechanism to the implementation. An OperatorPolicy lets an
// operator opt into real cryptographic verification once they've
// provisioned a public key, without changing the default (format-check-only)
// behavior for everyone else.
package policy

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nuwax-cli/stackupgrade/common"
)

// OperatorPolicy is decoded from a YAML file, the same wire format the
// teacher uses for its own abc.yaml template config (gopkg.in/yaml.v3).
type OperatorPolicy struct {
	// RequireCryptographicSignature, when true, requires a real Ed25519
	// signature verification against PublicKeyBase64 in addition to the
	// mandatory base64-format check. Default false: format check only.
	RequireCryptographicSignature bool `yaml:"require_cryptographic_signature"`

	// PublicKeyBase64 is the operator's Ed25519 public key, base64-encoded.
	// Required when RequireCryptographicSignature is true.
	PublicKeyBase64 string `yaml:"public_key_base64"`

	// BackupEnabledByDefault is decoded from the file (default true), but
	// nothing reads it: whether an apply keeps a backup ledger is decided
	// only by patch.Options.EnableBackup, which the upgrade command takes
	// from its --backup flag.
	BackupEnabledByDefault bool `yaml:"backup_enabled_by_default"`

	// StandardTierReadTimeout and ExtendedTierTimeout are decoded from the
	// file, but nothing reads them: the downloader always uses the fixed
	// per-tier timeouts in upgrade/download/tier.go.
	StandardTierReadTimeout time.Duration `yaml:"standard_tier_read_timeout,omitempty"`
	ExtendedTierTimeout     time.Duration `yaml:"extended_tier_timeout,omitempty"`
}

// Default returns the policy applied when no policy file is present:
// format-check-only signatures, backup enabled, no timeout overrides.
func Default() OperatorPolicy {
	return OperatorPolicy{
		RequireCryptographicSignature: false,
		BackupEnabledByDefault:        true,
	}
}

// Load reads and decodes an OperatorPolicy from path. A missing file is not
// an error: it returns the Default policy, since an operator who hasn't
// provisioned a policy file should get safe defaults, not a startup
// failure.
func Load(fs common.FS, path string) (OperatorPolicy, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if common.IsNotExistErr(err) {
			return Default(), nil
		}
		return OperatorPolicy{}, fmt.Errorf("reading operator policy %q: %w", path, err)
	}

	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return OperatorPolicy{}, fmt.Errorf("parsing operator policy %q: %w", path, err)
	}
	if p.RequireCryptographicSignature {
		if _, err := p.publicKey(); err != nil {
			return OperatorPolicy{}, fmt.Errorf("operator policy %q: %w", path, err)
		}
	}
	return p, nil
}

// publicKey decodes PublicKeyBase64 into an ed25519.PublicKey.
func (p OperatorPolicy) publicKey() (ed25519.PublicKey, error) {
	if p.PublicKeyBase64 == "" {
		return nil, fmt.Errorf("require_cryptographic_signature is true but public_key_base64 is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(p.PublicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding public_key_base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public_key_base64 decodes to %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature checks signatureBase64's format, and — when
// RequireCryptographicSignature is set — its cryptographic validity over
// payload. It returns a plain bool/error pair rather than an *uerr.UpgradeError
// because callers (the patch applicator) are responsible for wrapping the
// failure with the SignatureInvalid kind and the offending resource.
func (p OperatorPolicy) VerifySignature(payload []byte, signatureBase64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false, fmt.Errorf("signature is not valid base64: %w", err)
	}
	if !p.RequireCryptographicSignature {
		return true, nil
	}
	pub, err := p.publicKey()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, payload, sig), nil
}
