package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/harun/agentic/pkg/agent"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent definitions",
	Long:  `List the agents declared in the configured agents file.`,
	RunE:  runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defs, err := definitions(cfg)
	if err != nil {
		return err
	}
	return printAgents(cmd.OutOrStdout(), defs, cfg.Engine.MaxInferIters)
}

func printAgents(out io.Writer, defs []agent.AgentConfig, defaultIters int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tTOOLS\tSHIELDS\tMAX ITERS")
	for _, def := range defs {
		model := def.Model
		if model == "" {
			model = "-"
		}
		iters := def.MaxInferIters
		if iters == 0 {
			iters = defaultIters
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			def.Name, model, len(def.Tools), len(def.InputShields)+len(def.OutputShields), iters)
	}
	return w.Flush()
}
