// Package health provides shared types for health check responses.
package health

// Ports lists the protocol listener ports reported by the server.
type Ports struct {
	Classic int `json:"classic"`
	Actor   int `json:"actor"`
	Viewer  int `json:"viewer"`
}

// Response represents the API health response structure.
type Response struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Profile          string `json:"profile"`
	MIDCount         int    `json:"mid_count"`
	Sessions         int    `json:"sessions"`
	KeepaliveHintSec int    `json:"keepalive_hint_sec"`
	Ports            Ports  `json:"ports"`
}
