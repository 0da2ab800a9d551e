// Copyright 2025 Trackfs Authors
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

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"trackfs/internal/tracker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	workspaceFlag string
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

var rootCmd = &cobra.Command{
	Use:   "trackfs",
	Short: "Audit trail for agent-driven workspace edits",
	Long: `trackfs records every tracked file operation as a hash-chained snapshot,
detects out-of-band modifications, and consolidates history into milestones.

The agent/tool layer writes snapshots through the library API; this CLI is
the inspection and maintenance surface.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".",
		"workspace root directory")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openTracker opens the engine for the workspace given on the command line.
func openTracker() (*tracker.Tracker, error) {
	abs, err := filepath.Abs(workspaceFlag)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return tracker.Open(abs)
}
