// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd holds the command-line surface: a cobra root command and
// one subcommand per run mode, each wired up via its own init().
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluxgate/fluxd/common"
)

var rootCmd = &cobra.Command{
	Use:     common.App,
	Short:   "fluxd is a programmable network traffic processor",
	Version: common.Version,
}

func init() {
	rootCmd.SetVersionTemplate(versionTemplate())
}

func versionTemplate() string {
	info := common.GetBuildInfo()
	if info.GitHash == "" && info.Time == "" {
		return fmt.Sprintf("%s %s\n", common.App, common.Version)
	}
	return fmt.Sprintf("%s %s (build %s, %s)\n", common.App, common.Version, info.GitHash, info.Time)
}

// Execute runs the root command, exiting the process with status 1 on
// any error cobra itself reports (flag parsing, unknown subcommand).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
