package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/opsim/internal/logger"
	"github.com/marmos91/opsim/internal/protocol/openprotocol"
	"github.com/marmos91/opsim/pkg/catalog"
)

// Ring limits for the in-memory histories.
const (
	maxTrafficRecords = 5000
	maxEventRecords   = 2000
	maxResultHistory  = 1000
	maxAlarmHistory   = 1000
)

// ErrUnknownDomain is returned for reads and writes of a domain name that
// does not exist in the state tree.
var ErrUnknownDomain = errors.New("unknown state domain")

// ErrMaxSessions is returned when registering a session would exceed the
// configured connection limit.
var ErrMaxSessions = errors.New("max sessions reached")

// Persistence is the optional durable backing for the simulator. The
// simulator never fails an operation on persistence errors; implementations
// are expected to log and degrade.
type Persistence interface {
	LoadState() (map[string]any, error)
	SaveState(state map[string]any) error
	AppendTraffic(record TrafficRecord) error
	Close() error
}

// NopPersistence satisfies Persistence without storing anything. Used when
// persistence is disabled.
type NopPersistence struct{}

func (NopPersistence) LoadState() (map[string]any, error)    { return nil, nil }
func (NopPersistence) SaveState(map[string]any) error        { return nil }
func (NopPersistence) AppendTraffic(TrafficRecord) error     { return nil }
func (NopPersistence) Close() error                          { return nil }

// Options configures a State.
type Options struct {
	Catalog          *catalog.Catalog
	Profiles         *catalog.ProfileStore
	Persistence      Persistence
	KeepaliveTimeout time.Duration
	InactivityHint   int
	MaxSessions      int
}

// State is the shared simulator core: registered sessions, the domain state
// tree, and the traffic and event rings. A single mutex guards everything;
// every accessor returns deep copies so callers never alias internal maps.
type State struct {
	catalog          *catalog.Catalog
	profiles         *catalog.ProfileStore
	persist          Persistence
	keepaliveTimeout time.Duration
	inactivityHint   int
	maxSessions      int

	mu       sync.Mutex
	sessions map[string]*Session
	traffic  []TrafficRecord
	events   []Event
	domains  map[string]any
}

// NewState builds the simulator core. A persisted state snapshot, when one
// exists, replaces the initial domain tree.
func NewState(opts Options) *State {
	if opts.Persistence == nil {
		opts.Persistence = NopPersistence{}
	}
	s := &State{
		catalog:          opts.Catalog,
		profiles:         opts.Profiles,
		persist:          opts.Persistence,
		keepaliveTimeout: opts.KeepaliveTimeout,
		inactivityHint:   opts.InactivityHint,
		maxSessions:      opts.MaxSessions,
		sessions:         make(map[string]*Session),
	}
	s.domains = s.initialDomains()

	if loaded, err := s.persist.LoadState(); err != nil {
		logger.Warn("Could not load persisted state", "error", err)
	} else if loaded != nil {
		s.domains = loaded
	}
	return s
}

func (s *State) initialDomains() map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)
	return map[string]any{
		"metadata": map[string]any{"created_at": now, "profile": s.profiles.ActiveName()},
		"tool": map[string]any{
			"enabled":           true,
			"primary_tool":      "01",
			"calibration_value": "0.00",
			"paired":            false,
		},
		"job":  map[string]any{"selected": "0001", "running": false, "batch_counter": 0, "batch_size": 1},
		"pset": map[string]any{"selected": "001", "running": false, "batch_counter": 0, "batch_size": 1},
		"vin":  map[string]any{"current": "SIMVIN00000000001", "history": []any{}},
		"results": map[string]any{
			"last_tightening_id": 1,
			"history":            []any{},
		},
		"alarms": map[string]any{"active": []any{}, "history": []any{}},
		"io": map[string]any{
			"relays":          map[string]any{},
			"inputs":          map[string]any{},
			"relay_functions": map[string]any{},
			"digin_functions": map[string]any{},
		},
		"selector": map[string]any{"socket": "1", "green": []any{}, "red": []any{}},
		"traces":   map[string]any{"latest": nil},
		"programs": map[string]any{"last_download": nil, "catalog": map[string]any{}},
		"mode": map[string]any{
			"selected": "0001",
			"list":     []any{map[string]any{"id": "0001", "name": "Default"}},
		},
		"user_data":   map[string]any{"records": map[string]any{}},
		"identifiers": map[string]any{"latest": nil, "all": []any{}},
	}
}

// Catalog returns the MID catalog.
func (s *State) Catalog() *catalog.Catalog { return s.catalog }

// Profiles returns the profile store.
func (s *State) Profiles() *catalog.ProfileStore { return s.profiles }

// KeepaliveTimeout is the inactivity window after which a session is closed.
func (s *State) KeepaliveTimeout() time.Duration { return s.keepaliveTimeout }

// InactivityHint is the keep-alive interval advertised to clients, seconds.
func (s *State) InactivityHint() int { return s.inactivityHint }

// MaxSessions returns the configured session cap.
func (s *State) MaxSessions() int { return s.maxSessions }

// RegisterSession adds a session, enforcing the connection limit.
func (s *State) RegisterSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.maxSessions {
		return ErrMaxSessions
	}
	s.sessions[sess.ID] = sess
	return nil
}

// UnregisterSession removes a session by id. Unknown ids are ignored.
func (s *State) UnregisterSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Session returns a registered session by id.
func (s *State) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns snapshots of every registered session, ordered by id.
func (s *State) Sessions() []SessionSnapshot {
	s.mu.Lock()
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// LiveSessions returns the registered session pointers. Used by the event
// publisher and the keep-alive watchdog.
func (s *State) LiveSessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// ActorActive reports whether any actor session other than the excluded one
// has completed communication start.
func (s *State) ActorActive(excludeSession string) bool {
	s.mu.Lock()
	list := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if excludeSession != "" && id == excludeSession {
			continue
		}
		list = append(list, sess)
	}
	s.mu.Unlock()

	for _, sess := range list {
		if sess.Role == RoleActor && sess.Started() {
			return true
		}
	}
	return false
}

// EnsureCommandAllowed checks whether a session may execute command MIDs.
// Non-actor sessions are rejected with error code 92 while an actor holds
// the controller.
func (s *State) EnsureCommandAllowed(sess *Session) (bool, int) {
	if sess.Role == RoleActor {
		return true, 0
	}
	if s.ActorActive(sess.ID) {
		return false, openprotocol.CodeCommandDisabled
	}
	return true, 0
}

// RecordTraffic appends a frame to the traffic ring and the persistence
// store.
func (s *State) RecordTraffic(sess *Session, direction string, msg openprotocol.Message) {
	record := TrafficRecord{
		Timestamp:   time.Now().UTC(),
		SessionID:   sess.ID,
		Role:        sess.Role,
		Direction:   direction,
		MID:         msg.MID(),
		Revision:    msg.Revision(),
		Length:      msg.Header.Length,
		RawASCII:    sanitizeASCII(msg.Raw),
		DecodedData: sanitizeASCII(msg.Data),
	}

	s.mu.Lock()
	s.traffic = append(s.traffic, record)
	if len(s.traffic) > maxTrafficRecords {
		s.traffic = s.traffic[len(s.traffic)-maxTrafficRecords:]
	}
	s.mu.Unlock()

	if err := s.persist.AppendTraffic(record); err != nil {
		logger.Warn("Could not persist traffic record", "mid", record.MID, "error", err)
	}
}

// TrafficFilter narrows ListTraffic results.
type TrafficFilter struct {
	Limit     int
	MID       string
	SessionID string
}

// ListTraffic returns the newest matching traffic records, oldest first.
// The limit is clamped to [1, 500] and defaults to 100.
func (s *State) ListTraffic(filter TrafficFilter) []TrafficRecord {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	mid := ""
	if filter.MID != "" {
		mid = openprotocol.NormalizeMID(filter.MID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]TrafficRecord, 0, limit)
	for _, record := range s.traffic {
		if mid != "" && record.MID != mid {
			continue
		}
		if filter.SessionID != "" && record.SessionID != filter.SessionID {
			continue
		}
		matched = append(matched, record)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Domain returns a deep copy of one state domain.
func (s *State) Domain(name string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return deepCopyMap(value)
}

// Domains returns a deep copy of the whole state tree.
func (s *State) Domains() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied, err := deepCopyMap(s.domains)
	if err != nil {
		logger.Error("State tree copy failed", "error", err)
		return map[string]any{}
	}
	return copied
}

// UpdateDomain replaces one state domain and returns a deep copy of the new
// value. The domain must already exist.
func (s *State) UpdateDomain(name string, payload map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	s.domains[name] = payload
	s.touchMetadataLocked()
	s.saveStateLocked()
	return deepCopyMap(s.domains[name])
}

// Reset restores the initial domain tree, clears the event ring and resets
// the protocol state of every connected session. Traffic history survives.
func (s *State) Reset() {
	s.mu.Lock()
	s.domains = s.initialDomains()
	s.events = nil
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.saveStateLocked()
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.ResetLink()
	}
}

// SetProfile activates a controller profile and records it in metadata.
func (s *State) SetProfile(name string) error {
	if err := s.profiles.SetActive(name); err != nil {
		return err
	}
	s.mu.Lock()
	if meta, ok := s.domains["metadata"].(map[string]any); ok {
		meta["profile"] = name
	}
	s.touchMetadataLocked()
	s.saveStateLocked()
	s.mu.Unlock()
	return nil
}

// ProfileSummary is the list form of a profile.
type ProfileSummary struct {
	Name              string `json:"name"`
	DisplayName       string `json:"display_name"`
	Description       string `json:"description"`
	SupportedMIDCount int    `json:"supported_mid_count"`
}

// ProfileDetails is the expanded view of the active profile.
type ProfileDetails struct {
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	SupportedMIDs     []string         `json:"supported_mids"`
	RevisionOverrides map[string][]int `json:"revision_overrides"`
	Notes             map[string]any   `json:"notes"`
}

// ProfilePayload is the control-plane view of the profile store.
type ProfilePayload struct {
	Active        string           `json:"active"`
	Profiles      []ProfileSummary `json:"profiles"`
	ActiveDetails ProfileDetails   `json:"active_details"`
}

// ProfilePayload builds the control-plane profile listing.
func (s *State) ProfilePayload() ProfilePayload {
	active := s.profiles.Active()
	payload := ProfilePayload{
		Active: s.profiles.ActiveName(),
		ActiveDetails: ProfileDetails{
			Name:              active.Name,
			Description:       active.Description,
			SupportedMIDs:     active.SupportedMIDs,
			RevisionOverrides: active.RevisionOverrides,
			Notes:             active.Notes,
		},
	}
	for _, p := range s.profiles.All() {
		payload.Profiles = append(payload.Profiles, ProfileSummary{
			Name:              p.Name,
			DisplayName:       p.DisplayName,
			Description:       p.Description,
			SupportedMIDCount: len(p.SupportedMIDs),
		})
	}
	return payload
}

// CapabilityEntry is one row of the capability matrix: a catalog MID with
// its support status and effective revisions under the active profile.
type CapabilityEntry struct {
	MID       string           `json:"mid"`
	Name      string           `json:"name"`
	Category  catalog.Category `json:"category"`
	Supported bool             `json:"supported"`
	Revisions []int            `json:"revisions"`
}

// CapabilityMatrix lists every catalog MID with the active profile's view
// of it.
func (s *State) CapabilityMatrix() []CapabilityEntry {
	active := s.profiles.Active()
	matrix := make([]CapabilityEntry, 0, s.catalog.Len())
	for _, def := range s.catalog.All() {
		revs := def.SupportedRevisions
		if override, ok := active.RevisionOverrides[def.MID]; ok && len(override) > 0 {
			revs = override
		}
		matrix = append(matrix, CapabilityEntry{
			MID:       def.MID,
			Name:      def.Name,
			Category:  def.Category,
			Supported: active.Supports(def.MID),
			Revisions: revs,
		})
	}
	return matrix
}

// InjectEvent records a simulation event and applies its side effects to
// the domain tree. When the payload carries no explicit "mids" list the
// defaults for the event type apply.
func (s *State) InjectEvent(source, eventType string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	mids := extractMIDs(payload["mids"])
	if mids == nil {
		mids = defaultEventMIDs[eventType]
	}

	event := Event{
		EventID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Source:       source,
		Type:         eventType,
		Payload:      payload,
		AffectedMIDs: mids,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > maxEventRecords {
		s.events = s.events[len(s.events)-maxEventRecords:]
	}

	switch eventType {
	case EventTightening:
		s.applyTighteningLocked(payload)
	case EventAlarm:
		s.applyAlarmLocked(payload)
	case EventIOChange:
		s.applyIOChangeLocked(payload)
	}

	return event
}

// Events returns the recorded event ring, oldest first.
func (s *State) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// domainMapLocked returns the named domain as a map, installing a fresh
// one when the slot is missing or was overwritten with a non-map value.
func (s *State) domainMapLocked(name string) map[string]any {
	if domain, ok := s.domains[name].(map[string]any); ok && domain != nil {
		return domain
	}
	domain := map[string]any{}
	s.domains[name] = domain
	return domain
}

func (s *State) applyTighteningLocked(payload map[string]any) {
	results := s.domainMapLocked("results")
	tighteningID := asInt(results["last_tightening_id"]) + 1

	torque := numberOr(payload["torque_nm"], 12.34)
	angle := numberOr(payload["angle_deg"], 123.0)
	status := "OK"
	if ok, isBool := payload["ok"].(bool); isBool && !ok {
		status = "NOK"
	}

	result := map[string]any{
		"tightening_id": tighteningID,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"torque_nm":     torque,
		"angle_deg":     angle,
		"status":        status,
	}
	results["last_tightening_id"] = tighteningID
	results["history"] = appendCapped(asSlice(results["history"]), result, maxResultHistory)

	points, ok := payload["trace_points"].([]any)
	if !ok {
		points = []any{10, 12, 14, 15, 14, 12}
	}
	s.domainMapLocked("traces")["latest"] = map[string]any{
		"tightening_id": tighteningID,
		"points":        points,
	}
	s.saveStateLocked()
}

func (s *State) applyAlarmLocked(payload map[string]any) {
	alarm := map[string]any{
		"code":      stringOr(payload["code"], "0001"),
		"text":      stringOr(payload["text"], "Simulated alarm"),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	alarms := s.domainMapLocked("alarms")
	alarms["active"] = []any{alarm}
	alarms["history"] = appendCapped(asSlice(alarms["history"]), alarm, maxAlarmHistory)
	s.saveStateLocked()
}

func (s *State) applyIOChangeLocked(payload map[string]any) {
	key := stringOr(payload["key"], "input_01")
	value, ok := payload["value"]
	if !ok {
		value = true
	}
	io := s.domainMapLocked("io")
	inputs, ok := io["inputs"].(map[string]any)
	if !ok || inputs == nil {
		inputs = map[string]any{}
		io["inputs"] = inputs
	}
	inputs[key] = value
	s.saveStateLocked()
}

// PushMessages builds the push frames a session should receive for an
// event: every affected MID the session's subscriptions authorize, in
// ascending MID order. Sequence stamping happens at send time.
func (s *State) PushMessages(sess *Session, event Event) []openprotocol.Message {
	targets := sess.SubscriptionTargets()

	affected := make([]string, 0, len(event.AffectedMIDs))
	seen := make(map[string]struct{}, len(event.AffectedMIDs))
	for _, mid := range event.AffectedMIDs {
		mid = openprotocol.NormalizeMID(mid)
		if _, dup := seen[mid]; dup {
			continue
		}
		seen[mid] = struct{}{}
		affected = append(affected, mid)
	}
	sort.Strings(affected)

	var messages []openprotocol.Message
	for _, mid := range affected {
		if _, ok := targets[mid]; !ok {
			continue
		}
		messages = append(messages, openprotocol.Build(mid, s.BuildDataForMID(mid)))
	}
	return messages
}

func (s *State) touchMetadataLocked() {
	if meta, ok := s.domains["metadata"].(map[string]any); ok {
		meta["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	}
}

func (s *State) saveStateLocked() {
	if err := s.persist.SaveState(s.domains); err != nil {
		logger.Warn("Could not persist state snapshot", "error", err)
	}
}

func deepCopyMap(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sanitizeASCII(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func extractMIDs(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func numberOr(value any, fallback float64) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fallback
		}
		return f
	default:
		return fallback
	}
}

func stringOr(value any, fallback string) string {
	if s, ok := value.(string); ok && s != "" {
		return s
	}
	return fallback
}

func asSlice(value any) []any {
	if s, ok := value.([]any); ok {
		return s
	}
	return nil
}

func appendCapped(list []any, item any, limit int) []any {
	list = append(list, item)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
