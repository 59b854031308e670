// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagDB        string
	flagServerURL string
	flagProvider  string
	flagModel     string
)

var rootCmd = &cobra.Command{
	Use:   "skein [prompt]",
	Short: "Skein - AI assistant backend with durable session streaming",
	Long: `Skein runs the assistant server core: sessions, message streaming,
tool execution, and a durable event bus with cursor replay.

With a positional prompt it runs one assistant turn and prints the
response; pass --server-url to run the prompt against a remote server.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		promptText := strings.Join(args, " ")
		if flagServerURL != "" {
			return runRemotePrompt(cmd.Context(), flagServerURL, promptText)
		}
		return runLocalPrompt(cmd.Context(), promptText)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "skein.db"
	}
	return filepath.Join(home, ".local", "share", "skein", "skein.db")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ~/.config/skein/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", defaultDBPath(), "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server-url", "", "run against a remote skein server")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "provider id for new sessions")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "model id for new sessions")
	rootCmd.AddCommand(serveCmd)
}
