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

// Package upgrade implements the "upgrade" command: the thin reference CLI
// driving the upgrade core (strategy decision, download, patch apply) end
// to end. It owns process exit codes and terminal output; the core itself
// never touches stdout/stderr or a config file (spec.md §6).
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/alessio/shellescape"
	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/abcxyz/pkg/cli"

	"github.com/nuwax-cli/stackupgrade/common"
	"github.com/nuwax-cli/stackupgrade/internal/policy"
	"github.com/nuwax-cli/stackupgrade/upgrade/arch"
	"github.com/nuwax-cli/stackupgrade/upgrade/download"
	"github.com/nuwax-cli/stackupgrade/upgrade/manifest"
	"github.com/nuwax-cli/stackupgrade/upgrade/patch"
	"github.com/nuwax-cli/stackupgrade/upgrade/strategy"
	"github.com/nuwax-cli/stackupgrade/upgrade/uerr"
)

// Command implements cli.Command for the upgrade-core reference CLI.
type Command struct {
	cli.BaseCommand
	flags Flags

	// Used in prompt tests to bypass "is the input a terminal" check, the
	// same field name and purpose as templates/commands/upgrade.Command.
	skipPromptTTYCheck bool

	// testHTTPClient overrides the default HTTP client in tests.
	testHTTPClient download.HTTPDoer
	// testClock overrides the default clock in tests.
	testClock clock.Clock
}

// Desc implements cli.Command.
func (c *Command) Desc() string {
	return "decide and apply the appropriate upgrade (patch or full) for a deployed compose service stack"
}

// Help implements cli.Command.
func (c *Command) Help() string {
	return `
Usage: {{ COMMAND }} [options]

The {{ COMMAND }} command fetches the remote upgrade manifest, decides
whether the local deployment needs no upgrade, an incremental patch, or a
full reinstall, and applies that decision.
`
}

func (c *Command) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)
	return set
}

func (c *Command) httpClient() download.HTTPDoer {
	if c.testHTTPClient != nil {
		return c.testHTTPClient
	}
	return http.DefaultClient
}

func (c *Command) clk() clock.Clock {
	if c.testClock != nil {
		return c.testClock
	}
	return clock.New()
}

func (c *Command) Run(ctx context.Context, args []string) error {
	if err := c.Flags().Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	fs := &common.RealFS{}

	pol, err := policy.Load(fs, c.flags.PolicyFile)
	if err != nil {
		return err
	}

	man, err := c.loadManifest(ctx, fs)
	if err != nil {
		return err
	}

	a := arch.Detect()
	env, err := c.buildEnvProbe(fs)
	if err != nil {
		return err
	}

	decision, err := strategy.New(a).Decide(c.flags.CurrentVersion, man, c.flags.ForceFull, env)
	if err != nil {
		return c.reportErr(err)
	}

	switch decision.Kind {
	case strategy.NoUpgrade:
		fmt.Fprintln(c.Stdout(), color.GreenString("already up to date at version %s", decision.TargetVersion))
		return nil

	case strategy.FullUpgrade:
		if !c.confirm(ctx, fmt.Sprintf("This will overwrite %s with a full upgrade to version %s. Continue?",
			shellescape.Quote(c.flags.WorkingTreeRoot), decision.TargetVersion)) {
			fmt.Fprintln(c.Stdout(), "aborted")
			return &common.ExitCodeError{Code: 1, Err: errors.New("user declined confirmation")}
		}
		return c.applyFull(ctx, fs, decision, pol)

	case strategy.PatchUpgrade:
		return c.applyPatch(ctx, fs, decision, pol)

	default:
		return fmt.Errorf("internal error: unknown decision kind %v", decision.Kind)
	}
}

func (c *Command) loadManifest(ctx context.Context, fs common.FS) (*manifest.UpgradeManifest, error) {
	if c.flags.ManifestFile != "" {
		data, err := fs.ReadFile(c.flags.ManifestFile)
		if err != nil {
			return nil, fmt.Errorf("reading manifest file %q: %w", c.flags.ManifestFile, err)
		}
		return manifest.Decode(data)
	}
	if c.flags.ManifestURL == "" {
		return nil, fmt.Errorf("one of --manifest-url or --manifest-file is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.flags.ManifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building manifest request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, uerr.WithResource(uerr.NetworkError, c.flags.ManifestURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, uerr.WithResource(uerr.NetworkError, c.flags.ManifestURL,
			fmt.Errorf("unexpected status %d fetching manifest", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, uerr.WithResource(uerr.NetworkError, c.flags.ManifestURL, err)
	}
	return manifest.Decode(data)
}

func (c *Command) buildEnvProbe(fs common.FS) (strategy.EnvProbe, error) {
	composeFilePath := c.flags.ComposeDirPath + string(os.PathSeparator) + c.flags.ComposeFileName

	dirMissing, err := notExists(fs, c.flags.ComposeDirPath)
	if err != nil {
		return strategy.EnvProbe{}, err
	}
	fileMissing, err := notExists(fs, composeFilePath)
	if err != nil {
		return strategy.EnvProbe{}, err
	}

	return strategy.EnvProbe{
		ComposeDirPath:     c.flags.ComposeDirPath,
		ComposeDirMissing:  dirMissing,
		ComposeFileMissing: fileMissing,
		WorkingTreeRoot:    c.flags.WorkingTreeRoot,
		ComposeVersion:     c.flags.ComposeVersion,
	}, nil
}

func notExists(fs common.FS, path string) (bool, error) {
	exists, err := common.Exists(fs, path)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (c *Command) applicator(fs common.FS, pol policy.OperatorPolicy) *patch.Applicator {
	fetcher := download.New(fs, c.clk())
	return patch.New(fs, c.clk(), fetcher, pol)
}

// applyOpts builds the patch.Options for one apply. EnableBackup is always
// the --backup flag's value (default true), whether or not the flag was
// passed; the policy file's backup_enabled_by_default is not consulted.
func (c *Command) applyOpts(decision strategy.Decision) patch.Options {
	return patch.Options{
		WorkingTreeRoot: c.flags.WorkingTreeRoot,
		TargetVersion:   decision.TargetVersion.String(),
		EnableBackup:    c.flags.EnableBackup,
		Client:          c.httpClient(),
		KeepTempDirs:    c.flags.KeepTempDirs,
	}
}

func (c *Command) applyFull(ctx context.Context, fs common.FS, decision strategy.Decision, pol policy.OperatorPolicy) error {
	app := c.applicator(fs, pol)
	err := app.ApplyFull(ctx, decision.FullPackage, c.applyOpts(decision), c.progressSink())
	return c.finish(err, decision)
}

func (c *Command) applyPatch(ctx context.Context, fs common.FS, decision strategy.Decision, pol policy.OperatorPolicy) error {
	app := c.applicator(fs, pol)
	err := app.Apply(ctx, decision.PatchRef, c.applyOpts(decision), c.progressSink())
	return c.finish(err, decision)
}

func (c *Command) finish(err error, decision strategy.Decision) error {
	if err != nil {
		return c.reportErr(err)
	}
	fmt.Fprintln(c.Stdout(), color.GreenString("upgrade complete, now at version %s", decision.TargetVersion))
	return nil
}

func (c *Command) progressSink() patch.ProgressSink {
	return func(ev patch.Event) {
		fmt.Fprintf(c.Stdout(), "[%s] %.0f%% %s\n", ev.Stage, ev.Percent, ev.Message)
	}
}

// confirm prompts the user unless --no-prompt was set or stdin isn't a
// terminal, matching the teacher's own TTY-detection idiom in
// templates/common/input.
func (c *Command) confirm(ctx context.Context, msg string) bool {
	if c.flags.FlagNoPrompt {
		return true
	}
	if !c.skipPromptTTYCheck && !isatty.IsTerminal(os.Stdin.Fd()) {
		return false
	}
	answer, err := c.Prompt(ctx, msg+" [y/N]: ")
	if err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}

func (c *Command) reportErr(err error) error {
	var ue *uerr.UpgradeError
	if errors.As(err, &ue) {
		fmt.Fprintln(c.Stdout(), color.RedString("%s: %v", ue.Kind, ue.Err))
		if ue.Kind == uerr.RollbackFailed {
			fmt.Fprintf(c.Stdout(), "working tree may be inconsistent, inspect it with: ls -la %s\n",
				shellescape.Quote(c.flags.WorkingTreeRoot))
		}
		return &common.ExitCodeError{Code: exitCodeForKind(ue.Kind), Err: err}
	}
	return err
}

func exitCodeForKind(k uerr.Kind) int {
	switch k {
	case uerr.RollbackFailed:
		return 3
	case uerr.UnsafePath, uerr.PatchStructureInvalid, uerr.SignatureInvalid, uerr.InvalidVersion, uerr.NoPackageForArchitecture, uerr.IncompatibleEnvironment:
		return 2
	default:
		return 1
	}
}
