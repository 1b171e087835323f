// cmd/create.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/imposium-cli/internal/delivery"
	"github.com/aceteam-ai/imposium-cli/internal/tui"
	"github.com/aceteam-ai/imposium-cli/internal/ui"
)

var (
	createStory         string
	createInventory     []string
	createInventoryFile string
	createRender        bool
	createNoWait        bool
	createPlain         bool
	createJSON          bool
	createTimeout       time.Duration
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job and wait for its rendered output",
	Long: `Creates an experience from a story and an inventory, then waits until the
render completes.

Completion arrives over the push channel when --push-url (or push.url in the
config file) is set. If the push channel cannot be established after its
reconnect attempts, the job is created or kept over HTTP and polled instead.`,
	Example: `  # Render with inline inventory values
  imposium create --story 9f2c... --inventory name=Alice --inventory city=Lisbon

  # Load the inventory from a file and return as soon as the job exists
  imposium create --story 9f2c... --inventory-file inventory.yaml --no-wait

  # Create without rendering (render later with 'imposium trigger')
  imposium create --story 9f2c... --render=false`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	inventory, err := loadInventory(createInventory, createInventoryFile)
	if err != nil {
		return err
	}

	watcher := ui.NewWatcher(ui.WatcherConfig{
		Title:        fmt.Sprintf("Creating job for story %s", createStory),
		Interactive:  tui.ShouldUseInteractive(createPlain || createJSON),
		Output:       watcherOutput(createJSON),
		UntilCreated: createNoWait,
	})

	coord, err := newCoordinator(cfg, watcher)
	if err != nil {
		return err
	}
	defer coord.Close()

	clientID, err := coord.CreateJob(delivery.CreateParams{
		StoryID:    createStory,
		Inventory:  inventory,
		Render:     createRender,
		OnProgress: watcher.Progress,
	})
	if err != nil {
		return err
	}
	Debug("create: client id %s, %s mode", clientID, coord.Mode())
	watcher.Start()

	exp, err := waitForJob(watcher, createTimeout)
	if err != nil || exp == nil {
		return err
	}
	if createJSON {
		return printJSON(exp)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createStory, "story", "", "Story ID to render")
	createCmd.Flags().StringArrayVarP(&createInventory, "inventory", "i", nil, "Inventory entry as key=value (repeatable)")
	createCmd.Flags().StringVar(&createInventoryFile, "inventory-file", "", "YAML or JSON file with inventory entries")
	createCmd.Flags().BoolVar(&createRender, "render", true, "Start rendering immediately")
	createCmd.Flags().BoolVar(&createNoWait, "no-wait", false, "Return once the job is created")
	createCmd.Flags().BoolVar(&createPlain, "plain", false, "Print one line per event instead of the interactive view")
	createCmd.Flags().BoolVar(&createJSON, "json", false, "Print the finished job as JSON")
	createCmd.Flags().DurationVar(&createTimeout, "timeout", 0, "Stop waiting after this long (0 waits until done)")
	_ = createCmd.MarkFlagRequired("story")
}
