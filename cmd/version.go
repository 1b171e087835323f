// cmd/version.go
package cmd

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/imposium-cli/internal/api"
)

// Version will be set at build time
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the Imposium CLI",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Imposium CLI version %s\n", Version)

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		v, err := version.NewVersion(cfg.APIVersion)
		if err != nil {
			return fmt.Errorf("invalid api_version %q: %w", cfg.APIVersion, err)
		}
		fmt.Printf("Job API version %s (minimum supported %s)\n", v, api.MinAPIVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
