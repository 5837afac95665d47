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

package upgrade

import (
	"github.com/abcxyz/pkg/cli"
	"github.com/posener/complete/v2/predict"

	"github.com/nuwax-cli/stackupgrade/flags"
)

// Flags holds the "upgrade" command's flags.
type Flags struct {
	flags.AutomationFlags

	// ManifestURL is fetched with a GET request to obtain the upgrade
	// catalog JSON. Mutually exclusive with ManifestFile.
	ManifestURL string

	// ManifestFile reads the upgrade catalog JSON from a local path instead
	// of a remote server, for offline use and testing. Mutually exclusive
	// with ManifestURL.
	ManifestFile string

	// CurrentVersion is the four-segment version string the working tree
	// currently represents, normally read by the caller from its own
	// persisted config (spec.md §6) and passed through here.
	CurrentVersion string

	// WorkingTreeRoot is the on-disk directory holding the deployed compose
	// service content. Defaults to the current directory.
	WorkingTreeRoot string

	// ComposeDirPath is the directory expected to hold the compose project
	// (docker-compose.yml and friends). Used to populate EnvProbe.
	ComposeDirPath string

	// ComposeFileName is the compose file expected inside ComposeDirPath.
	ComposeFileName string

	// ComposeVersion is the locally installed docker compose binary's
	// version, if known, used for the C7 compatibility gate. Empty skips
	// the gate.
	ComposeVersion string

	// ForceFull skips the patch-upgrade path and always resolves a full
	// upgrade, per spec.md §4.4 step 2.
	ForceFull bool

	// PolicyFile is the path to an optional OperatorPolicy YAML file (see
	// internal/policy). A missing file yields safe defaults.
	PolicyFile string

	// EnableBackup decides whether an apply keeps a backup ledger. It is
	// used as is, default included; the policy's BackupEnabledByDefault is
	// not consulted.
	EnableBackup bool

	// KeepTempDirs preserves download/extract/backup staging directories
	// instead of removing them, for debugging.
	KeepTempDirs bool
}

// Register wires Flags onto a cli.FlagSet, following the teacher's own
// section-grouped flag registration style (templates/commands/upgrade/flags.go).
func (f *Flags) Register(set *cli.FlagSet) {
	f.AutomationFlags.AddAutomationFlags(set)

	m := set.NewSection("MANIFEST OPTIONS")
	m.StringVar(&cli.StringVar{
		Name:   "manifest-url",
		Target: &f.ManifestURL,
		Usage:  "URL of the remote upgrade manifest to fetch.",
	})
	m.StringVar(&cli.StringVar{
		Name:    "manifest-file",
		Target:  &f.ManifestFile,
		Predict: predict.Files("*.json"),
		Usage:   "path to a local upgrade manifest JSON file, instead of fetching one.",
	})

	v := set.NewSection("VERSION OPTIONS")
	v.StringVar(&cli.StringVar{
		Name:    "current-version",
		Target:  &f.CurrentVersion,
		Example: "0.0.13.2",
		Usage:   "the version the working tree currently represents.",
	})
	v.StringVar(&cli.StringVar{
		Name:   "compose-version",
		Target: &f.ComposeVersion,
		Usage:  "the host's docker compose binary version, for the manifest's compose-version compatibility gate. Omit if unknown.",
	})
	v.BoolVar(&cli.BoolVar{
		Name:    "force-full",
		Target:  &f.ForceFull,
		Default: false,
		Usage:   "always perform a full upgrade, never an incremental patch.",
	})

	e := set.NewSection("ENVIRONMENT OPTIONS")
	e.StringVar(&cli.StringVar{
		Name:    "working-tree-root",
		Target:  &f.WorkingTreeRoot,
		Default: ".",
		Predict: predict.Dirs("*"),
		Usage:   "the deployed compose service root directory that gets mutated.",
	})
	e.StringVar(&cli.StringVar{
		Name:    "compose-dir",
		Target:  &f.ComposeDirPath,
		Default: ".",
		Predict: predict.Dirs("*"),
		Usage:   "the directory expected to hold the compose project.",
	})
	e.StringVar(&cli.StringVar{
		Name:    "compose-file-name",
		Target:  &f.ComposeFileName,
		Default: "docker-compose.yml",
		Usage:   "the compose file name expected inside compose-dir.",
	})

	p := set.NewSection("POLICY OPTIONS")
	p.StringVar(&cli.StringVar{
		Name:    "policy-file",
		Target:  &f.PolicyFile,
		Predict: predict.Files("*.yaml"),
		Usage:   "path to an operator policy YAML file governing signature strictness, default backup, and timeout overrides.",
	})
	p.BoolVar(&cli.BoolVar{
		Name:    "backup",
		Target:  &f.EnableBackup,
		Default: true,
		Usage:   "enable backup-ledger rollback protection for this apply. Strongly recommended.",
	})

	d := set.NewSection("DEBUG OPTIONS")
	d.BoolVar(&cli.BoolVar{
		Name:    "keep-temp-dirs",
		Target:  &f.KeepTempDirs,
		Default: false,
		Usage:   "preserve download/extract/backup staging directories instead of removing them.",
	})
}
