package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/criteria"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// maxFailuresShown caps the failure table; the summary always has the total.
const maxFailuresShown = 20

func newProgress(c *cli.Context, total int, description string) *progressbar.ProgressBar {
	out := c.App.ErrWriter
	if c.Bool(flagQuiet) || c.Bool(flagJSON) {
		out = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionClearOnFinish(),
	)
}

type resultJSON struct {
	Success []api.Outcome `json:"success"`
	Fail    []api.Outcome `json:"fail"`
	Errors  []string      `json:"errors,omitempty"`
}

func printResult(c *cli.Context, operation string, res api.Result) error {
	out := c.App.Writer

	if c.Bool(flagJSON) {
		doc := resultJSON{Success: res.Success, Fail: res.Fail}
		for _, err := range res.Errors {
			doc.Errors = append(doc.Errors, err.Error())
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	_, _ = bold.Fprintf(out, "%s finished: %d records\n", operation, res.Total())

	table := tablewriter.NewWriter(out)
	table.Header("Outcome", "Records")
	_ = table.Append("success", strconv.Itoa(len(res.Success)))
	_ = table.Append("fail", strconv.Itoa(len(res.Fail)))
	_ = table.Append("errors", strconv.Itoa(len(res.Errors)))
	_ = table.Render()

	if len(res.Fail) > 0 {
		_, _ = red.Fprintf(out, "\n%d failed records\n", len(res.Fail))
		failures := tablewriter.NewWriter(out)
		failures.Header("Module", "ID", "Response")
		for i, o := range res.Fail {
			if i == maxFailuresShown {
				_ = failures.Append("...", fmt.Sprintf("%d more", len(res.Fail)-i), "")
				break
			}
			_ = failures.Append(o.Module, o.ID, truncate(string(o.Response), 60))
		}
		_ = failures.Render()
	} else {
		_, _ = green.Fprintln(out, "\nall records succeeded")
	}

	for _, err := range res.Errors {
		_, _ = yellow.Fprintln(out, "error:", err)
	}
	return nil
}

func printPlan(c *cli.Context, plan criteria.Plan) error {
	out := c.App.Writer

	if c.Bool(flagJSON) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	_, _ = bold.Fprintf(out, "%d searches\n", len(plan))
	table := tablewriter.NewWriter(out)
	table.Header("Search", "Expressions", "Joined")
	for i, chunk := range plan {
		_ = table.Append(strconv.Itoa(i+1), strconv.Itoa(len(chunk)), criteria.Join(chunk))
	}
	return table.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func joinComma(values []string) string {
	return strings.Join(values, ",")
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
