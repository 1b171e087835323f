// cmd/get.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/oliveagle/jsonpath"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/tui"
	"github.com/aceteam-ai/imposium-cli/internal/ui"
)

var (
	getQuery string
	getJSON  bool
)

var getCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show the current state of a job",
	Long: `Fetches a job once and prints it. Use 'imposium watch' to wait for output.

--query evaluates a JSONPath expression against the job document and prints
only the match, which is handy in scripts.`,
	Example: `  imposium get 4b1e...
  imposium get 4b1e... --query '$.output.mp4'
  imposium get 4b1e... --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient(cfg)
		if err != nil {
			return err
		}

		exp, err := client.Get(context.Background(), args[0])
		if err != nil {
			return err
		}

		switch {
		case getQuery != "":
			out, err := queryExperience(exp, getQuery)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		case getJSON:
			return printJSON(exp)
		default:
			printExperience(exp)
			return nil
		}
	},
}

// queryExperience evaluates a JSONPath expression against the job's JSON form.
// String results are returned bare; anything else is JSON encoded.
func queryExperience(exp *experience.Experience, path string) (string, error) {
	data, err := json.Marshal(exp)
	if err != nil {
		return "", err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}

	pattern, err := jsonpath.Compile(path)
	if err != nil {
		return "", fmt.Errorf("invalid JSONPath expression '%s': %w", path, err)
	}
	res, err := pattern.Lookup(doc)
	if err != nil {
		return "", fmt.Errorf("JSONPath expression '%s' returned no results: %w", path, err)
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printExperience(exp *experience.Experience) {
	fmt.Println(tui.FormatKeyValue("ID", exp.ID))
	if exp.StoryID != "" {
		fmt.Println(tui.FormatKeyValue("Story", exp.StoryID))
	}
	if exp.DateCreated != "" {
		fmt.Println(tui.FormatKeyValue("Created", exp.DateCreated))
	}

	state := "idle"
	switch {
	case exp.Rejected():
		state = "rejected by moderation"
	case exp.Done():
		state = "complete"
	case exp.Rendering:
		state = "rendering"
	}
	fmt.Println(tui.FormatKeyValue("State", state))
	if exp.ModerationStatus != "" {
		fmt.Println(tui.FormatKeyValue("Moderation", string(exp.ModerationStatus)))
	}
	for _, line := range ui.OutputLines(exp) {
		fmt.Println("  " + line)
	}
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getQuery, "query", "q", "", "JSONPath expression to extract (e.g. '$.output.mp4')")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "Print the job as JSON")
}
