// Package scenario loads scripted event sequences and replays them through
// the event publisher. A scenario is an ordered list of steps, each with an
// optional delay, an event type and a payload; running one is equivalent to
// a series of event injections over the control plane.
package scenario

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	adapter "github.com/marmos91/opsim/pkg/adapter/openprotocol"
)

//go:embed data/scenarios.json
var defaultData embed.FS

// ErrUnknownScenario is returned when running a scenario that was never
// loaded.
var ErrUnknownScenario = errors.New("unknown scenario")

// Step is one scripted event: wait DelaySec, then inject Event with
// Payload.
type Step struct {
	DelaySec float64        `json:"delay_sec"`
	Event    string         `json:"event"`
	Payload  map[string]any `json:"payload"`
}

// Scenario is a named step sequence.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

type scenarioFile struct {
	Scenarios []Scenario `json:"scenarios"`
}

// Library holds every loaded scenario by name.
type Library struct {
	scenarios map[string]Scenario
}

// Load parses a scenario file.
func Load(r io.Reader) (*Library, error) {
	var file scenarioFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode scenarios: %w", err)
	}
	lib := &Library{scenarios: make(map[string]Scenario, len(file.Scenarios))}
	for _, s := range file.Scenarios {
		if s.Name == "" {
			return nil, errors.New("scenario without a name")
		}
		lib.scenarios[s.Name] = s
	}
	return lib, nil
}

// LoadFile reads scenarios from a path on disk.
func LoadFile(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios %s: %w", path, err)
	}
	return Load(bytes.NewReader(raw))
}

// LoadDefault returns the embedded scenario library.
func LoadDefault() (*Library, error) {
	raw, err := defaultData.ReadFile("data/scenarios.json")
	if err != nil {
		return nil, fmt.Errorf("embedded scenarios: %w", err)
	}
	return Load(bytes.NewReader(raw))
}

// Names lists the loaded scenario names in ascending order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.scenarios))
	for name := range l.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a scenario by name.
func (l *Library) Get(name string) (Scenario, bool) {
	s, ok := l.scenarios[name]
	return s, ok
}

// Publisher injects events and fans them out to subscribed sessions. The
// TCP adapter satisfies it.
type Publisher interface {
	Publish(source, eventType string, payload map[string]any) adapter.PublishResult
}

// RunResult summarizes one scenario run.
type RunResult struct {
	Scenario      string                  `json:"scenario"`
	StepsExecuted int                     `json:"steps_executed"`
	Results       []adapter.PublishResult `json:"results"`
}

// Runner replays scenarios through a publisher.
type Runner struct {
	library   *Library
	publisher Publisher
}

// NewRunner builds a runner over a library and a publisher.
func NewRunner(library *Library, publisher Publisher) *Runner {
	return &Runner{library: library, publisher: publisher}
}

// Names lists the runnable scenario names.
func (r *Runner) Names() []string {
	return r.library.Names()
}

// Run replays a scenario. The overlay payload is merged over every step's
// payload, overriding on key collisions. Delays respect context
// cancellation; a cancelled run returns the results collected so far along
// with the context error.
func (r *Runner) Run(ctx context.Context, name string, overlay map[string]any) (RunResult, error) {
	s, ok := r.library.Get(name)
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}

	result := RunResult{Scenario: name}
	for _, step := range s.Steps {
		if step.DelaySec > 0 {
			delay := time.Duration(step.DelaySec * float64(time.Second))
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}

		payload := make(map[string]any, len(step.Payload)+len(overlay))
		for k, v := range step.Payload {
			payload[k] = v
		}
		for k, v := range overlay {
			payload[k] = v
		}

		result.Results = append(result.Results, r.publisher.Publish("scenario", step.Event, payload))
		result.StepsExecuted++
	}
	return result, nil
}
