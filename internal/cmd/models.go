package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/agentround/agentround/internal/client"
	agentlog "github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/registry"
	"github.com/spf13/cobra"
)

func init() {
	modelsCmd.Flags().Bool("remote", false, "Ask the running server instead of reading the providers file")
	modelsCmd.Flags().Bool("json", false, "Print JSON")
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured models",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		agentlog.Setup(cfg.LogFile(), cfg.Debug)

		var models []proto.ModelInfo
		if remote {
			c, err := client.NewClientHost(resolveHost(cmd, cfg))
			if err != nil {
				return fmt.Errorf("invalid host URL: %v", err)
			}
			models, err = c.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}
		} else {
			reg, err := registry.New(cfg.ProvidersFile)
			if err != nil {
				return err
			}
			models = reg.Models()
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(models)
		}
		return printModels(cmd.OutOrStdout(), models)
	},
}

func printModels(w io.Writer, models []proto.ModelInfo) error {
	if len(models) == 0 {
		_, err := fmt.Fprintln(w, "No models configured")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tTYPE")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.DisplayName, m.ProviderID, m.ProviderType)
	}
	return tw.Flush()
}
