package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dht/cmd/kv"
	"github.com/ValentinKolb/dht/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dht",
		Short: "sharded key-value store",
		Long: fmt.Sprintf(`dht (v%s)

A sharded key-value store. Every node persists its keys in a
log-structured storage engine and forwards requests for keys
owned by other members of the cluster.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dht",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dht v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
