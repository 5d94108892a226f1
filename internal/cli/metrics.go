package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapfluxo/zapfluxo/internal/config"
)

var metricsAddr string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print counters from a running engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := metricsAddr
		if addr == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			addr = cfg.HTTP.Addr
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + addr + "/api/v1/metrics")
		if err != nil {
			return fmt.Errorf("is the engine running? %w", err)
		}
		defer resp.Body.Close()

		var counters map[string]int64
		if err := json.NewDecoder(resp.Body).Decode(&counters); err != nil {
			return err
		}

		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-24s %d\n", name, counters[name])
		}
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsAddr, "addr", "", "engine api address (host:port)")
}
