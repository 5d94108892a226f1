package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zapfluxo/zapfluxo/internal/config"
	"github.com/zapfluxo/zapfluxo/internal/delegation"
	"github.com/zapfluxo/zapfluxo/internal/storage"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the human agent roster",
}

func openRegistry() (*delegation.Registry, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, nil, err
	}
	reg, err := delegation.NewRegistry(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return reg, db, nil
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents and availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, db, err := openRegistry()
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := reg.ListAgents(context.Background())
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("no agents registered")
			return nil
		}
		for _, a := range agents {
			status := color.GreenString("available")
			if !a.Available {
				status = color.YellowString("unavailable")
			}
			fmt.Printf("%-12s %-20s %s\n", a.ID, a.Name, status)
		}
		return nil
	},
}

var agentsAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Add an agent to the rotation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, db, err := openRegistry()
		if err != nil {
			return err
		}
		defer db.Close()

		agent, err := reg.AddAgent(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		color.Green("agent %s (%s) registered", agent.ID, agent.Name)
		return nil
	},
}

var agentsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an agent from the rotation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, db, err := openRegistry()
		if err != nil {
			return err
		}
		defer db.Close()

		removed, err := reg.RemoveAgent(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("agent %s not found", args[0])
		}
		color.Green("agent %s removed", args[0])
		return nil
	},
}

var agentsAvailableFlag bool

var agentsSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Set an agent's availability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, db, err := openRegistry()
		if err != nil {
			return err
		}
		defer db.Close()

		agent, err := reg.SetAgentAvailability(context.Background(), args[0], agentsAvailableFlag)
		if err != nil {
			return err
		}
		if agent == nil {
			return fmt.Errorf("agent %s not found", args[0])
		}
		fmt.Printf("agent %s available=%v\n", agent.ID, agent.Available)
		return nil
	},
}

func init() {
	agentsSetCmd.Flags().BoolVar(&agentsAvailableFlag, "available", true, "availability to set")
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsAddCmd)
	agentsCmd.AddCommand(agentsRemoveCmd)
	agentsCmd.AddCommand(agentsSetCmd)
}
