package cmd

import (
	"fmt"
	"os"

	"github.com/diegose/limitd-go/cmd/bucket"
	"github.com/diegose/limitd-go/cmd/ping"
	"github.com/diegose/limitd-go/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "limitd-cli",
		Short: "rate limiting client",
		Long: fmt.Sprintf(`limitd-cli (v%s)

A command line client for limitd rate limiting servers. Reserve, wait for,
inspect and replenish token buckets over a persistent binary connection.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of limitd-cli",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("limitd-cli v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bucket.BucketCommands)
	RootCmd.AddCommand(ping.PingCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
