// cmd/trigger.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/imposium-cli/internal/ui"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <job-id>",
	Short: "Start rendering a job created with --render=false",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient(cfg)
		if err != nil {
			return err
		}

		var ack string
		err = ui.RunWithSpinner(fmt.Sprintf("Triggering render of %s", args[0]), func() error {
			var err error
			ack, err = client.TriggerRender(context.Background(), args[0])
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("   - Render queued as %s. Follow it with 'imposium watch %s'.\n", ack, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}
