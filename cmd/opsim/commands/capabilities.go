package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/opsim/internal/cli/output"
	"github.com/spf13/cobra"
)

var (
	capsOutput        string
	capsHost          string
	capsAPIPort       int
	capsSupportedOnly bool
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show the active profile's MID support matrix",
	Long: `Display the capability matrix of a running simulator: every catalog
MID with the active profile's support flag and effective revisions.

Examples:
  # Full matrix
  opsim capabilities

  # Only MIDs the active profile supports
  opsim capabilities --supported

  # Output as JSON
  opsim capabilities --output json`,
	RunE: runCapabilities,
}

func init() {
	capabilitiesCmd.Flags().StringVar(&capsHost, "host", "localhost", "API server host")
	capabilitiesCmd.Flags().IntVar(&capsAPIPort, "api-port", 8080, "API server port")
	capabilitiesCmd.Flags().StringVarP(&capsOutput, "output", "o", "table", "Output format (table|json|yaml)")
	capabilitiesCmd.Flags().BoolVar(&capsSupportedOnly, "supported", false, "Show only supported MIDs")
}

// capabilityItem mirrors one entry of the capabilities response.
type capabilityItem struct {
	MID       string `json:"mid" yaml:"mid"`
	Name      string `json:"name" yaml:"name"`
	Category  string `json:"category" yaml:"category"`
	Supported bool   `json:"supported" yaml:"supported"`
	Revisions []int  `json:"revisions" yaml:"revisions"`
}

type capabilitiesResponse struct {
	Count int              `json:"count" yaml:"count"`
	Items []capabilityItem `json:"items" yaml:"items"`
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(capsOutput)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/api/v1/capabilities", capsHost, capsAPIPort)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("simulator is not reachable at %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from simulator: %s", resp.Status)
	}

	var matrix capabilitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&matrix); err != nil {
		return fmt.Errorf("invalid capabilities response: %w", err)
	}

	if capsSupportedOnly {
		filtered := matrix.Items[:0]
		for _, item := range matrix.Items {
			if item.Supported {
				filtered = append(filtered, item)
			}
		}
		matrix.Items = filtered
		matrix.Count = len(filtered)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, matrix)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, matrix)
	default:
		return printCapabilitiesTable(matrix)
	}
}

func printCapabilitiesTable(matrix capabilitiesResponse) error {
	table := output.NewTableData("MID", "NAME", "CATEGORY", "SUPPORTED", "REVISIONS")
	for _, item := range matrix.Items {
		supported := "no"
		if item.Supported {
			supported = "yes"
		}
		table.AddRow(item.MID, item.Name, item.Category, supported, formatRevisions(item.Revisions))
	}

	if err := output.PrintTable(os.Stdout, table); err != nil {
		return err
	}
	fmt.Printf("\n%d MIDs\n", matrix.Count)
	return nil
}

func formatRevisions(revisions []int) string {
	if len(revisions) == 0 {
		return "-"
	}
	parts := make([]string, len(revisions))
	for i, rev := range revisions {
		parts[i] = strconv.Itoa(rev)
	}
	return strings.Join(parts, ",")
}
