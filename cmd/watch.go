// cmd/watch.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/imposium-cli/internal/tui"
	"github.com/aceteam-ai/imposium-cli/internal/ui"
)

var (
	watchPlain   bool
	watchJSON    bool
	watchTimeout time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Wait for an existing job's output",
	Long: `Follows an existing job until its output is ready.

A job that finished is printed immediately. A job that is neither rendering nor
finished is triggered first.`,
	Example: `  imposium watch 4b1e...
  imposium watch 4b1e... --push-url wss://push.imposium.com/stomp`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		watcher := ui.NewWatcher(ui.WatcherConfig{
			Title:       fmt.Sprintf("Watching job %s", args[0]),
			Interactive: tui.ShouldUseInteractive(watchPlain || watchJSON),
			Output:      watcherOutput(watchJSON),
		})
		coord, err := newCoordinator(cfg, watcher)
		if err != nil {
			return err
		}
		defer coord.Close()

		if err := coord.GetJob(args[0]); err != nil {
			return err
		}
		watcher.Start()

		exp, err := waitForJob(watcher, watchTimeout)
		if err != nil || exp == nil {
			return err
		}
		if watchJSON {
			return printJSON(exp)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print one line per event instead of the interactive view")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print the finished job as JSON")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "Stop waiting after this long (0 waits until done)")
}
