// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command queryctl is the CLI client for the Aleutian Query server.
//
// Usage:
//
//	queryctl ask "How many orders shipped last month?"
//	queryctl ask --target warehouse "Top ten customers by revenue"
//	QUERY_SERVER_URL=http://localhost:9090 queryctl ask "..."
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	targetFlag  string
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "queryctl",
		Short: "Client for the Aleutian Query natural-language-to-SQL server",
	}

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Generate SQL from a natural-language question",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	askCmd.Flags().StringVar(&targetFlag, "target", "", "Target database or schema name")
	askCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show attempt trace and verifier feedback")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Run:   runHealthCommand,
	}

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
