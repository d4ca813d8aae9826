package simulator

import (
	"fmt"

	"github.com/marmos91/opsim/internal/protocol/openprotocol"
)

// BuildDataForMID materializes the data field for a reply or push MID from
// the current domain tree. Unknown MIDs get the generic "01SIM" payload so
// every advertised MID stays answerable.
func (s *State) BuildDataForMID(mid string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildDataLocked(openprotocol.NormalizeMID(mid))
}

func (s *State) buildDataLocked(mid string) []byte {
	switch mid {
	case "0015":
		pset := s.domains["pset"].(map[string]any)
		return openprotocol.ASCII("01", zeroPadField(pset["selected"], 3))

	case "0022":
		return openprotocol.ASCII("01", "1")

	case "0035":
		job := s.domains["job"].(map[string]any)
		return openprotocol.ASCII("01", zeroPadField(job["selected"], 4))

	case "0052":
		vin := s.domains["vin"].(map[string]any)
		return openprotocol.ASCII("01", openprotocol.LeftJust(stringOr(vin["current"], ""), 25))

	case "0061":
		latest := s.latestResultLocked()
		tid := s.domains["results"].(map[string]any)["last_tightening_id"]
		status := "OK"
		if latest != nil {
			tid = latest["tightening_id"]
			status = stringOr(latest["status"], "OK")
		}
		return openprotocol.ASCII("01", zeroPadField(tid, 10), "02", openprotocol.LeftJust(status, 3))

	case "0071", "1000":
		code, text := s.activeAlarmLocked()
		return openprotocol.ASCII("01", code, "02", openprotocol.LeftJust(text, 25))

	case "0211", "0217", "0221":
		return openprotocol.ASCII("01", "1")

	case "0401":
		return openprotocol.ASCII("01", "AUTO")

	case "0421":
		return openprotocol.ASCII("01", "0")

	case "0501":
		return openprotocol.ASCII("01", "OK")

	case "0900":
		points := s.latestTracePointsLocked()
		binary := make([]byte, len(points))
		for i, p := range points {
			binary[i] = byte(asInt(p) & 0xff)
		}
		head := openprotocol.ASCII("01", "TRACE", "02", fmt.Sprintf("%04d", len(binary)))
		out := make([]byte, 0, len(head)+1+len(binary))
		out = append(out, head...)
		out = append(out, openprotocol.NUL)
		return append(out, binary...)

	case "1201":
		latest := s.latestResultLocked()
		torque, angle := 12.34, 123.0
		if latest != nil {
			torque = numberOr(latest["torque_nm"], torque)
			angle = numberOr(latest["angle_deg"], angle)
		}
		return openprotocol.ASCII("01", fmt.Sprintf("%07.2f", torque), "02", fmt.Sprintf("%07.2f", angle))

	case "1202":
		latest := s.latestResultLocked()
		status := "OK"
		if latest != nil {
			status = stringOr(latest["status"], "OK")
		}
		return openprotocol.ASCII("01", openprotocol.LeftJust(status, 3))

	case "0262":
		return openprotocol.ASCII("01", "TAG1234567890")

	case "0101":
		return openprotocol.ASCII("01", "MS_RESULT")

	case "0106":
		return openprotocol.ASCII("01", "STATION_RESULT")

	case "0107":
		return openprotocol.ASCII("01", "BOLT_RESULT")

	case "0242":
		return openprotocol.ASCII("01", "USER_DATA")

	case "0251":
		selector := s.domains["selector"].(map[string]any)
		return openprotocol.ASCII("01", zeroPadField(selector["socket"], 2))

	case "2601":
		return openprotocol.ASCII("01", "0001")

	case "2603":
		return openprotocol.ASCII("01", "MODE_DEFAULT")

	default:
		return openprotocol.ASCII("01", "SIM")
	}
}

func (s *State) latestResultLocked() map[string]any {
	history := asSlice(s.domains["results"].(map[string]any)["history"])
	if len(history) == 0 {
		return nil
	}
	latest, _ := history[len(history)-1].(map[string]any)
	return latest
}

func (s *State) activeAlarmLocked() (code, text string) {
	active := asSlice(s.domains["alarms"].(map[string]any)["active"])
	if len(active) == 0 {
		return "0000", "No alarm"
	}
	alarm, _ := active[len(active)-1].(map[string]any)
	return zeroPadField(stringOr(alarm["code"], "0000"), 4), stringOr(alarm["text"], "No alarm")
}

func zeroPadField(value any, width int) string {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	default:
		s = fmt.Sprintf("%d", asInt(v))
	}
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func (s *State) latestTracePointsLocked() []any {
	latest, _ := s.domains["traces"].(map[string]any)["latest"].(map[string]any)
	if latest == nil {
		return []any{10, 12, 14, 15}
	}
	points := asSlice(latest["points"])
	if points == nil {
		return []any{10, 12, 14, 15}
	}
	return points
}
