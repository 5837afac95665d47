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

// Package flags contains flag groups shared by more than one stackupgrade
// command.
package flags

import (
	"github.com/abcxyz/pkg/cli"
)

// AutomationFlags is embedded by commands that may run unattended (CI,
// cron, a fleet manager invoking many hosts) and need to skip the
// interactive confirmation prompt that otherwise guards a destructive full
// upgrade.
type AutomationFlags struct {
	// FlagNoPrompt skips the "are you sure" confirmation before a full
	// upgrade overwrites the working tree. Automation callers are expected
	// to set this; the TTY-detection fallback in commands/upgrade refuses
	// to prompt anyway when stdin isn't a terminal, but this flag makes the
	// intent explicit and auditable from the invocation itself.
	FlagNoPrompt bool
}

// AddAutomationFlags registers the automation flag group on set.
func (a *AutomationFlags) AddAutomationFlags(set *cli.FlagSet) {
	f := set.NewSection("AUTOMATION OPTIONS")
	f.BoolVar(&cli.BoolVar{
		Name:    "no-prompt",
		Target:  &a.FlagNoPrompt,
		Default: false,
		Usage:   "Skip the interactive confirmation before applying a full upgrade. Required when stdin isn't a terminal.",
	})
}
