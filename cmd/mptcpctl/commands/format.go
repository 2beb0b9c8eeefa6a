package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mptcpd/mptcpd/internal/admin"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStatus renders a status response in the requested format.
func formatStatus(resp admin.Response, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(statusView{
			Ready:     resp.Ready,
			Dialect:   resp.Dialect,
			Family:    resp.Family,
			Addresses: resp.Addresses,
		})
	case formatTable:
		return formatStatusTable(resp), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatPlugins renders the plugin list in the requested format.
func formatPlugins(resp admin.Response, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(resp.Plugins)
	case formatTable:
		return formatPluginsTable(resp.Plugins), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

type statusView struct {
	Ready     bool   `json:"ready"`
	Dialect   string `json:"dialect,omitempty"`
	Family    string `json:"family,omitempty"`
	Addresses int    `json:"addresses"`
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatStatusTable(resp admin.Response) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	readyStr := "no"
	if resp.Ready {
		readyStr = "yes"
	}

	fmt.Fprintf(w, "Ready:\t%s\n", readyStr)
	fmt.Fprintf(w, "Dialect:\t%s\n", valueOrNA(resp.Dialect))
	fmt.Fprintf(w, "Family:\t%s\n", valueOrNA(resp.Family))
	fmt.Fprintf(w, "Addresses:\t%d\n", resp.Addresses)

	w.Flush()
	return buf.String()
}

func formatPluginsTable(plugins []admin.PluginResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPRIORITY\tLOADED\tDESCRIPTION")

	for _, p := range plugins {
		loaded := "no"
		if p.Loaded {
			loaded = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.Name, p.Priority, loaded, p.Description)
	}

	w.Flush()
	return buf.String()
}

func valueOrNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
