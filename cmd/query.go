package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"sigetidwh/internal/serving"
)

var queryFilters = map[string]*int{
	"year":       new(int),
	"quarter":    new(int),
	"month":      new(int),
	"zone":       new(int),
	"enterprise": new(int),
}

var queryCmd = &cobra.Command{
	Use:   "query <mart>",
	Short: "Aggregate one mart and print the measures as JSON",
	Long: `Aggregate a mart with optional dimension filters. Filters that do not apply
to the chosen mart are rejected. The output is the same measure map the
dashboard endpoints serve, including the freshness timestamp.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := serving.Filters{}
		for name, value := range queryFilters {
			if cmd.Flags().Changed(name) {
				filters[name] = *value
			}
		}

		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.close()

		aggregate, err := rt.servingLayer().Aggregate(ctx, args[0], filters)
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(aggregate)
	},
}

func init() {
	for name, value := range queryFilters {
		queryCmd.Flags().IntVar(value, name, 0, "filter by "+name)
	}
	rootCmd.AddCommand(queryCmd)
}
