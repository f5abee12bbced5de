package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("replaykit setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.APIKey = prompt(scanner, "API key", cfg.APIKey)
		cfg.Server = prompt(scanner, "Recording server", cfg.Server)
		cfg.DataDir = prompt(scanner, "Recordings directory", cfg.DataDir)

		concurrency := prompt(scanner, "Concurrent uploads", strconv.Itoa(cfg.Upload.Concurrency))
		if n, err := strconv.Atoi(concurrency); err == nil && n > 0 {
			cfg.Upload.Concurrency = n
		}

		process := prompt(scanner, "Process recordings after upload (yes/no)", yesNo(cfg.Upload.Process))
		cfg.Upload.Process = strings.HasPrefix(strings.ToLower(process), "y")

		cfg.Watch.Schedule = prompt(scanner, "Watch sweep schedule", cfg.Watch.Schedule)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
