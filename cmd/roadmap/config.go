package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roadmapper/roadmap/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration (file, environment and defaults)",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := redactSecrets(config.AllSettings())
		if jsonOutput {
			outputJSON(map[string]any{
				"config_file": config.ConfigFileUsed(),
				"settings":    settings,
			})
			return nil
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Printf("# %s\n", f)
		} else {
			fmt.Println("# no config file; defaults and environment only")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(settings)
	},
}

// redactSecrets masks values whose key looks like a credential.
func redactSecrets(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		switch tv := val.(type) {
		case map[string]interface{}:
			out[k] = redactSecrets(tv)
		default:
			lk := strings.ToLower(k)
			if s, ok := val.(string); ok && s != "" && (strings.Contains(lk, "token") || strings.Contains(lk, "secret")) {
				out[k] = "********"
				continue
			}
			out[k] = val
		}
	}
	return out
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
