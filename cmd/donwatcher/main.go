// DonWatcher - Privileged group risk scoring for Active Directory.
// Copyright (c) 2025 rival420
// Licensed under the Apache License 2.0

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "donwatcher",
		Short: "Risk scoring for privileged Active Directory groups",
		Long: "DonWatcher scores monitored groups by membership acceptance, rolls them up\n" +
			"into four risk categories and combines the result with the latest\n" +
			"infrastructure score into one global risk score per domain.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}
