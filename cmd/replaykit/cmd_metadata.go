package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/metadata"
)

func init() {
	rootCmd.AddCommand(metadataCmd)
	metadataCmd.AddCommand(metadataValidateCmd)
	metadataValidateCmd.Flags().String("kind", "test", "document kind: test or source")
	metadataValidateCmd.Flags().Int("version", 0, "validate against this version instead of the declared one")
}

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Work with recording metadata documents",
}

var metadataValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a metadata document and print it with defaults applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		var reg *metadata.Registry
		switch kind {
		case "test":
			reg = metadata.TestRegistry()
		case "source":
			reg = metadata.SourceRegistry()
		default:
			return fmt.Errorf("unknown metadata kind %q (want test or source)", kind)
		}

		raw, err := metadata.Load(args[0])
		if err != nil {
			return err
		}

		var doc *metadata.Document
		if version, _ := cmd.Flags().GetInt("version"); version != 0 {
			doc, err = reg.Validate(raw, version)
		} else {
			doc, err = reg.ValidateDeclared(raw)
		}

		var sve *metadata.SchemaValidationError
		if errors.As(err, &sve) {
			fmt.Fprintf(os.Stderr, "%s is not valid %s v%d metadata:\n", args[0], kind, sve.Version)
			for _, d := range sve.Details {
				fmt.Fprintf(os.Stderr, "  %s\n", d)
			}
			return fmt.Errorf("invalid fields: %v", sve.Fields)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc.Data)
	},
}
