package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// aiSnapTypeMap decodes the numeric Type codes in SnapedObjInfo entries.
var aiSnapTypeMap = map[int]AlarmType{
	1: AlarmPerson,
	2: AlarmVehicle,
	3: AlarmFace,
	4: AlarmPlate,
	5: AlarmIntrusion,
	6: AlarmLineCrossing,
}

// Parsed is the result of decoding one push or long-poll payload.
type Parsed struct {
	Alarms     []Alarm
	Detections []Detection
}

// Parse decodes a raw device payload into normalized alarms and AI
// detections. The device sends several shapes depending on firmware and
// event source, all handled here:
//
//  1. alarm_list entries with per-channel int_alarm subtypes
//  2. flat event arrays under "events", "alarms" or "alarm"
//  3. a single flat alarm object
//  4. ai_snap_picture with SnapedObjInfo / PlateInfo / FaceInfo arrays
//
// Parse never fails on unknown shapes: an unrecognized JSON object yields
// a single motion alarm on channel 0 so the trigger is not lost.
func Parse(raw []byte, now time.Time) (Parsed, error) {
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return Parsed{}, fmt.Errorf("event: decode payload: %w", err)
	}
	return ParseMap(top, now), nil
}

// ParseMap is Parse over an already-decoded payload.
func ParseMap(top map[string]any, now time.Time) Parsed {
	data := top
	if inner, ok := top["data"].(map[string]any); ok {
		data = inner
	}

	var out Parsed
	out.Detections = parseSnapshots(data, now)
	out.Alarms = parseAlarms(data, now)
	return out
}

func parseAlarms(data map[string]any, now time.Time) []Alarm {
	// Format 1: native alarm_list.
	if list, ok := data["alarm_list"].([]any); ok {
		var alarms []Alarm
		for _, e := range list {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			ts, _ := entry["time"].(string)
			chAlarms, _ := entry["channel_alarm"].([]any)
			for _, ca := range chAlarms {
				chAlarm, ok := ca.(map[string]any)
				if !ok {
					continue
				}
				channel := channelToInt(chAlarm["channel"])
				subtype := "motion"
				if ia, ok := chAlarm["int_alarm"].(map[string]any); ok {
					if s, ok := ia["int_subtype"].(string); ok && s != "" {
						subtype = s
					}
				}
				alarms = append(alarms, Alarm{
					Type:       NormalizeType(subtype),
					Channel:    channel,
					Timestamp:  ts,
					OccurredAt: now,
				})
			}
		}
		if len(alarms) > 0 {
			return alarms
		}
	}

	// Format 2: flat arrays.
	for _, key := range []string{"events", "alarms", "alarm"} {
		list, ok := data[key].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		var alarms []Alarm
		for _, e := range list {
			if item, ok := e.(map[string]any); ok {
				alarms = append(alarms, parseSingleAlarm(item, now))
			}
		}
		return alarms
	}

	// Format 3: one flat object.
	for _, key := range []string{"alarm_type", "type", "AlarmType", "event_type", "channel", "Chn"} {
		if _, ok := data[key]; ok {
			return []Alarm{parseSingleAlarm(data, now)}
		}
	}

	// Pure AI snapshot payloads carry no alarm section.
	if _, ok := data["ai_snap_picture"]; ok {
		return nil
	}
	// Long-poll cursor envelopes without alarm content are heartbeats.
	if _, ok := data["reader_id"]; ok {
		return nil
	}
	if _, ok := data["sequence"]; ok {
		return nil
	}

	return []Alarm{{Type: AlarmMotion, Channel: 0, OccurredAt: now}}
}

func parseSingleAlarm(item map[string]any, now time.Time) Alarm {
	rawType := "motion"
	for _, key := range []string{"alarm_type", "type", "AlarmType", "event_type"} {
		if s, ok := item[key].(string); ok && s != "" {
			rawType = s
			break
		}
	}
	channel := 0
	for _, key := range []string{"channel", "Chn", "ch"} {
		if v, ok := item[key]; ok {
			channel = channelToInt(v)
			break
		}
	}
	ts, _ := item["timestamp"].(string)
	if ts == "" {
		ts, _ = item["time"].(string)
	}
	return Alarm{
		Type:       NormalizeType(rawType),
		Channel:    channel,
		Timestamp:  ts,
		OccurredAt: now,
	}
}

func parseSnapshots(data map[string]any, now time.Time) []Detection {
	aiSnap, ok := data["ai_snap_picture"].(map[string]any)
	if !ok {
		return nil
	}

	var dets []Detection

	// Person, vehicle, intrusion and line-crossing captures.
	for _, e := range toMaps(aiSnap["SnapedObjInfo"]) {
		kind, ok := aiSnapTypeMap[asInt(e["Type"])]
		if !ok {
			kind = AlarmMotion
		}
		det := baseDetection(e, kind, now)
		det.PlateNumber = asString(e["PlateNum"])
		if det.PlateNumber == "" {
			det.PlateNumber = asString(e["CarNum"])
		}
		det.CarBrand = asString(e["CarBrand"])
		det.CarType = asString(e["CarType"])
		det.CarColor = asString(e["CarColor"])
		det.Image = asString(e["ObjectImage"])
		dets = append(dets, det)
	}

	// License plate captures. Id carries the DB plate text for registered
	// plates; strangers (GrpId=3) only have the OCR text in SnapId.
	for _, e := range toMaps(aiSnap["PlateInfo"]) {
		det := baseDetection(e, AlarmPlate, now)
		det.PlateNumber = asString(e["Id"])
		if det.PlateNumber == "" {
			det.PlateNumber = asString(e["SnapId"])
		}
		det.GrpID = asInt(e["GrpId"])
		det.ListType = PlateListType(det.GrpID)
		det.ListTypeLabel = det.ListType.Label()
		det.CarBrand = asString(e["CarBrand"])
		det.CarType = asString(e["CarType"])
		det.CarColor = asString(e["CarColor"])
		// BgImg shows the vehicle in context; PlateImg is only the crop.
		det.Image = asString(e["BgImg"])
		if det.Image == "" {
			det.Image = asString(e["PlateImg"])
		}
		dets = append(dets, det)
	}

	// Face captures.
	for _, e := range toMaps(aiSnap["FaceInfo"]) {
		det := baseDetection(e, AlarmFace, now)
		det.FaceID = asString(e["Id"])
		det.FaceName = asString(e["Name"])
		det.Similarity = asInt(e["Score"])
		det.GrpID = asInt(e["GrpId"])
		det.ListType = FaceListType(det.GrpID)
		det.ListTypeLabel = det.ListType.Label()
		det.Image = asString(e["Image2"])
		if det.Image == "" {
			det.Image = asString(e["Image4"])
		}
		dets = append(dets, det)
	}

	return dets
}

func baseDetection(e map[string]any, kind AlarmType, now time.Time) Detection {
	chRef := asString(e["StrChn"])
	if chRef == "" {
		chRef = asString(e["Chn"])
	}
	channel := channelToInt(e["StrChn"])
	if channel == 0 {
		// Bare Chn is a 0-based index.
		channel = asInt(e["Chn"]) + 1
	}
	return Detection{
		ID:            uuid.New(),
		Kind:          kind,
		Channel:       channel,
		ChannelRef:    chRef,
		SnapID:        asString(e["SnapId"]),
		StartTime:     asString(e["StartTime"]),
		EndTime:       asString(e["EndTime"]),
		ListType:      ListUnknown,
		ListTypeLabel: ListUnknown.Label(),
		OccurredAt:    occurredAt(asString(e["StartTime"]), now),
		ReceivedAt:    now,
	}
}

// occurredAt parses the device's local timestamp format, falling back to
// the receive time when absent or unparseable.
func occurredAt(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "01/02/2006 15:04:05", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return now
}

func channelToInt(v any) int {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if len(s) > 2 && strings.EqualFold(s[:2], "CH") {
			s = s[2:]
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	case float64:
		return int(t)
	case int:
		return t
	}
	return 0
}

func toMaps(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}
