package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configCheckCmd)
	configListCmd.Flags().Bool("show-secrets", false, "print secret values unmasked")
	configListCmd.Flags().Bool("types", false, "print the type each key accepts")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Read and change the config file. Keys are dotted paths such as
upload.part_size or watch.schedule. Values given to set are parsed as the
key's type and the resulting config is validated before it is written.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every configuration key and its value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		show, _ := cmd.Flags().GetBool("show-secrets")
		types, _ := cmd.Flags().GetBool("types")

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, s := range config.ListValues(cfg, !show) {
			if types {
				fmt.Fprintf(w, "%s\t%s\t%v\n", s.Name, s.Type, s.Value)
			} else {
				fmt.Fprintf(w, "%s\t%v\n", s.Name, s.Value)
			}
		}
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a configuration value",
	Example: `  replaykit config set upload.concurrency 4
  replaykit config set watch.schedule "@every 5m"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load first so a missing file is created with defaults.
		loadConfig()
		val, err := config.SetValue(cfgPath, args[0], args[1])
		if err != nil {
			return err
		}
		if s, ok := val.(string); ok && config.IsSecretKey(args[0]) {
			val = config.Mask(s)
		}
		fmt.Fprintf(os.Stdout, "%s = %v\n", args[0], val)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig().Validate(); err != nil {
			return fmt.Errorf("invalid config %s:\n%w", cfgPath, err)
		}
		fmt.Fprintln(os.Stdout, "config ok:", cfgPath)
		return nil
	},
}
