package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/1broseidon/vidwall/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and its includes",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("config: ok (%d file(s), %d output rule(s))\n", len(res.Files), len(res.Config.Rules()))
		return nil
	},
}

var configExplainCmd = &cobra.Command{
	Use:   "explain <yaml.path>",
	Short: "Show an effective config value and where it was set",
	Example: `  vidwall config explain layout
  vidwall config explain 'outputs[0].source'`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		value, origin, err := config.Explain(res, args[0])
		if err != nil {
			return err
		}
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		out, err := yaml.Marshal(value)
		if err != nil {
			return err
		}
		fmt.Printf("path: %s\n", args[0])
		fmt.Printf("source: %s\n", formatOrigin(origin))
		fmt.Printf("value:\n%s", string(out))
		return nil
	},
}

func init() {
	configCmd.PersistentFlags().String("path", "", "Config file path (default: ~/.config/vidwall/config.yaml)")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configExplainCmd)
}

func loadConfig(cmd *cobra.Command) (*config.LoadResult, error) {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

func formatOrigin(o config.Origin) string {
	switch o.Kind {
	case config.OriginFile:
		if o.File == "" {
			return "file"
		}
		if o.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", o.File, o.Line, o.Column)
		}
		return "file:" + o.File
	case config.OriginDefault:
		if o.Name != "" {
			return "default:" + o.Name
		}
		return "default"
	default:
		return string(o.Kind)
	}
}
