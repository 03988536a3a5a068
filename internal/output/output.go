package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v2"

	"github.com/kelsos/x-checker/internal/config"
	"github.com/kelsos/x-checker/internal/models"
)

// Render writes records to w in the given format. JSON and YAML emit a single
// document: an object for one record, a list otherwise.
func Render(w io.Writer, format string, records ...models.TaskRecord) error {
	switch format {
	case config.OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(records) == 1 {
			return enc.Encode(records[0])
		}
		return enc.Encode(records)
	case config.OutputYAML:
		var doc interface{} = records
		if len(records) == 1 {
			doc = records[0]
		}
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case config.OutputText, "":
		return renderText(w, records)
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
}

func renderText(w io.Writer, records []models.TaskRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, r := range records {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "Task ID:\t%s\n", r.TaskID)
		fmt.Fprintf(tw, "User ID:\t%s\n", r.UserID)
		fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
		fmt.Fprintf(tw, "Progress:\t%d/%d (success %d, failure %d)\n", r.Processed(), r.Total, r.Success, r.Failure)
		if r.ResultURL != "" {
			fmt.Fprintf(tw, "Result URL:\t%s\n", r.ResultURL)
		}
		if r.CreatedAt != "" {
			fmt.Fprintf(tw, "Created:\t%s\n", r.CreatedAt)
		}
		if r.UpdatedAt != "" {
			fmt.Fprintf(tw, "Updated:\t%s\n", r.UpdatedAt)
		}
	}
	return tw.Flush()
}
