package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/goswarm/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	port    int
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "goswarm",
	Short: "goswarm, a distributed agent swarm node",
	Long:  "goswarm runs one node of an agent swarm: a session runtime with skills, peer dispatch over a shared registry, and automatic context compaction. Start several nodes against the same registry and they delegate work to each other.",
	Run: func(cmd *cobra.Command, args []string) {
		runNode()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $SWARM_CONFIG)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 8000, "HTTP port this node listens on (also its swarm identity)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(registryCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goswarm %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("SWARM_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
