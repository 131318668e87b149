package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage this node's sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func openSessionStore() (*config.Config, store.SessionStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.OpenSQLite(cfg.SessionDBPath(port))
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return cfg, st, nil
}

func sessionsListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions stored on this node",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, st, err := openSessionStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			defer st.Close()

			infos, err := st.List(context.Background(), cfg.App.Name, userID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "list sessions:", err)
				os.Exit(1)
			}
			if len(infos) == 0 {
				fmt.Println("no sessions")
				return
			}
			for _, info := range infos {
				title := info.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%-24s  %4d msgs  %s  %s\n",
					info.SessionID, info.MessageCount,
					info.UpdatedAt.Format("2006-01-02 15:04"), title)
			}
		},
	}
	cmd.Flags().StringVar(&userID, "user", "user", "user scope to list")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete <session_id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, st, err := openSessionStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			defer st.Close()

			key := store.SessionKey{AppName: cfg.App.Name, UserID: userID, SessionID: args[0]}
			if err := st.Delete(context.Background(), key); err != nil {
				fmt.Fprintln(os.Stderr, "delete session:", err)
				os.Exit(1)
			}
			fmt.Println("deleted", args[0])
		},
	}
	cmd.Flags().StringVar(&userID, "user", "user", "user scope of the session")
	return cmd
}
