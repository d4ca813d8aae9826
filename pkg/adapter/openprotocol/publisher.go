package openprotocol

// PublishResult summarizes one event injection: the recorded event plus the
// number of push frames actually sent to subscribers.
type PublishResult struct {
	EventID        string   `json:"event_id"`
	EventType      string   `json:"event_type"`
	AffectedMIDs   []string `json:"affected_mids"`
	PushedMessages int      `json:"pushed_messages"`
}

// Publish injects a simulation event, applies its state side effects and
// fans the resulting push frames out to every started session whose
// subscriptions cover the affected MIDs. Pushes are sent in ascending MID
// order per session; sequence stamping happens in the send path.
func (a *Adapter) Publish(source, eventType string, payload map[string]any) PublishResult {
	event := a.state.InjectEvent(source, eventType, payload)

	pushed := 0
	for _, sess := range a.state.LiveSessions() {
		if !sess.Started() {
			continue
		}
		for _, msg := range a.state.PushMessages(sess, event) {
			a.send(sess, msg)
			pushed++
		}
	}

	if a.metrics != nil {
		a.metrics.RecordEventPublished(eventType, pushed)
	}

	return PublishResult{
		EventID:        event.EventID,
		EventType:      event.Type,
		AffectedMIDs:   event.AffectedMIDs,
		PushedMessages: pushed,
	}
}
