package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/opsim/internal/cli/health"
	"github.com/marmos91/opsim/internal/cli/output"
	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusHost    string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show simulator status",
	Long: `Display the current status of a running simulator.

This command calls the health endpoint and displays the active profile,
connected sessions and listener ports.

Examples:
  # Check status (uses default settings)
  opsim status

  # Check status with custom API port
  opsim status --api-port 9080

  # Output as JSON
  opsim status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHost, "host", "localhost", "API server host")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// SimulatorStatus represents the simulator status information.
type SimulatorStatus struct {
	Running          bool         `json:"running" yaml:"running"`
	Message          string       `json:"message" yaml:"message"`
	Version          string       `json:"version,omitempty" yaml:"version,omitempty"`
	Profile          string       `json:"profile,omitempty" yaml:"profile,omitempty"`
	MIDCount         int          `json:"mid_count,omitempty" yaml:"mid_count,omitempty"`
	Sessions         int          `json:"sessions" yaml:"sessions"`
	KeepaliveHintSec int          `json:"keepalive_hint_sec,omitempty" yaml:"keepalive_hint_sec,omitempty"`
	Ports            health.Ports `json:"ports,omitempty" yaml:"ports,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := SimulatorStatus{
		Running: false,
		Message: "Simulator is not running",
	}

	healthURL := fmt.Sprintf("http://%s:%d/api/v1/health", statusHost, statusAPIPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(healthURL)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()

		var healthResp health.Response
		if err := json.NewDecoder(resp.Body).Decode(&healthResp); err == nil {
			status.Running = true
			status.Message = "Simulator is running"
			status.Version = healthResp.Version
			status.Profile = healthResp.Profile
			status.MIDCount = healthResp.MIDCount
			status.Sessions = healthResp.Sessions
			status.KeepaliveHintSec = healthResp.KeepaliveHintSec
			status.Ports = healthResp.Ports
		} else {
			status.Running = true
			status.Message = "Simulator is running but health response invalid"
		}
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status SimulatorStatus) {
	fmt.Println()
	fmt.Println("opsim Simulator Status")
	fmt.Println("======================")
	fmt.Println()

	if !status.Running {
		fmt.Printf("  Status:  \033[31m○ Stopped\033[0m\n")
		fmt.Println()
		fmt.Printf("  %s\n", status.Message)
		fmt.Println()
		return
	}

	fmt.Printf("  Status:  \033[32m● Running\033[0m\n")
	fmt.Println()

	_ = output.SimpleTable(os.Stdout, [][2]string{
		{"Version", status.Version},
		{"Profile", status.Profile},
		{"MIDs", strconv.Itoa(status.MIDCount)},
		{"Sessions", strconv.Itoa(status.Sessions)},
		{"Keep-alive hint", fmt.Sprintf("%ds", status.KeepaliveHintSec)},
		{"Classic port", strconv.Itoa(status.Ports.Classic)},
		{"Actor port", strconv.Itoa(status.Ports.Actor)},
		{"Viewer port", strconv.Itoa(status.Ports.Viewer)},
	})
	fmt.Println()
}
