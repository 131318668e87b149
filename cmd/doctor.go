package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/registry"
	"github.com/nextlevelbuilder/goswarm/internal/skills"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check this node's configuration and environment",
		Run: func(cmd *cobra.Command, args []string) {
			failed := runDoctor()
			if failed > 0 {
				fmt.Printf("\n%d check(s) failed\n", failed)
				os.Exit(1)
			}
			fmt.Println("\nall checks passed")
		},
	}
}

func runDoctor() int {
	failed := 0
	check := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Printf("✗ %-20s %v\n", name, err)
			return
		}
		fmt.Printf("✓ %-20s ok\n", name)
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	check("config", err)
	if err != nil {
		return failed
	}

	if cfg.Provider.APIKey == "" {
		check("api key", fmt.Errorf("SWARM_API_KEY not set"))
	} else {
		check("api key", nil)
	}

	st, err := store.OpenSQLite(cfg.SessionDBPath(port))
	check("session store", err)
	if err == nil {
		st.Close()
	}

	reg, err := registry.Open(cfg.RegistryDSN())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = reg.Active(ctx)
		cancel()
		reg.Close()
	}
	check("swarm registry", err)

	m := skills.NewManager(cfg.Skills.Dir)
	if err := m.Scan(); err != nil {
		check("skills", err)
	} else if len(m.IDs()) == 0 {
		check("skills", fmt.Errorf("no skills found in %s", cfg.Skills.Dir))
	} else {
		check("skills", nil)
		fmt.Printf("  discovered: %v\n", m.IDs())
	}

	return failed
}
