package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/registry"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the shared swarm registry",
	}
	cmd.AddCommand(registryListCmd())
	return cmd
}

func registryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active nodes in the swarm",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintln(os.Stderr, "load config:", err)
				os.Exit(1)
			}
			reg, err := registry.Open(cfg.RegistryDSN())
			if err != nil {
				fmt.Fprintln(os.Stderr, "open registry:", err)
				os.Exit(1)
			}
			defer reg.Close()

			nodes, err := reg.Active(context.Background())
			if err != nil {
				fmt.Fprintln(os.Stderr, "list nodes:", err)
				os.Exit(1)
			}
			if len(nodes) == 0 {
				fmt.Println("no active nodes")
				return
			}
			for _, n := range nodes {
				seen := time.Unix(int64(n.LastSeen), 0)
				fmt.Printf("port %-6d %-28s %-8s last seen %s\n",
					n.Port, n.URL, n.Status, seen.Format("2006-01-02 15:04:05"))
			}
		},
	}
}
