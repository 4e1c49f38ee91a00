package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/display"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List attached displays",
	Long: `List the attached displays in the order used by the API.

Displays are sorted top to bottom, then left to right. The ID column is the
value to pass as display_id when starting monitoring. The DUPLICATION column
shows whether the duplication methods can reach the display; displays they
cannot reach are captured with the GDI fallback.`,
	Example: `  # List displays in table format (default)
  screenmask displays

  # List displays in JSON format
  screenmask displays --format json`,
	RunE: runDisplays,
}

var displaysFormat string

func init() {
	rootCmd.AddCommand(displaysCmd)

	displaysCmd.Flags().StringVarP(&displaysFormat, "format", "f", "table", "output format (table or json)")
}

func runDisplays(cmd *cobra.Command, args []string) error {
	list, err := display.NewEnumerator(nil).List()
	if err != nil {
		return err
	}

	switch displaysFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	case "table":
		outputs, err := capture.ListOutputs()
		return printDisplaysTable(list, duplicationColumn(list, outputs, err))
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", displaysFormat)
	}
}

// duplicationColumn labels each display by whether an adapter output matches
// it. Platforms without duplication report n/a.
func duplicationColumn(list []display.Descriptor, outputs []capture.OutputBounds, err error) []string {
	col := make([]string, len(list))
	for i, d := range list {
		switch {
		case errors.Is(err, capture.ErrNotSupported):
			col[i] = "n/a"
		case err != nil:
			col[i] = "?"
		default:
			col[i] = "No"
			for _, o := range outputs {
				if capture.MatchesOutput(d, o) {
					col[i] = "Yes"
					break
				}
			}
		}
	}
	return col
}

func printDisplaysTable(list []display.Descriptor, duplication []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tPOSITION\tSIZE\tSCALE\tPRIMARY\tDUPLICATION")
	fmt.Fprintln(w, "--\t----\t--------\t----\t-----\t-------\t-----------")

	for i, d := range list {
		primary := "No"
		if d.Primary {
			primary = "Yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%d,%d\t%dx%d\t%.2f\t%s\t%s\n",
			d.ID, d.Name, d.X, d.Y, d.Width, d.Height, d.ScaleFactor, primary, duplication[i])
	}

	return nil
}
