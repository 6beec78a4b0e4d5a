package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)

func TestNormalizeType(t *testing.T) {
	cases := map[string]AlarmType{
		"motion":        AlarmMotion,
		"MD":            AlarmMotion,
		"VMD":           AlarmMotion,
		"pd":            AlarmPerson,
		"PVD_person":    AlarmPerson,
		"HumanDetect":   AlarmPerson,
		"vd":            AlarmVehicle,
		"car":           AlarmVehicle,
		"LCD":           AlarmLineCrossing,
		"LineCrossing":  AlarmLineCrossing,
		"PID":           AlarmIntrusion,
		"fd":            AlarmFace,
		"FaceDetection": AlarmFace,
		"LPR":           AlarmPlate,
		"lp":            AlarmPlate,
		"IOAlarm":       AlarmIO,
		"sod":           AlarmSOD,
		"rsd":           AlarmSound,
		"CrowdDensity":  AlarmCrowd,
		"wander":        AlarmWander,
		"PIR":           AlarmPIR,
		"occlusion":     AlarmOcclusion,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeType(raw), "raw=%q", raw)
	}
}

func TestNormalizeTypeCompoundSubtype(t *testing.T) {
	// "pd_vd" means person and vehicle detection enabled; the prefix names
	// the category that fired.
	assert.Equal(t, AlarmPerson, NormalizeType("pd_vd"))
	assert.Equal(t, AlarmMotion, NormalizeType("md_vd"))
	assert.Equal(t, AlarmVehicle, NormalizeType("vd_pd"))
}

func TestNormalizeTypeUnknownFallsBackToMotion(t *testing.T) {
	assert.Equal(t, AlarmMotion, NormalizeType("definitely_not_a_thing"))
	assert.Equal(t, AlarmMotion, NormalizeType(""))
}

func TestParseAlarmList(t *testing.T) {
	raw := []byte(`{"data":{"alarm_list":[
		{"time":"2026-03-14 11:59:58","channel_alarm":[
			{"channel":"CH17","int_alarm":{"int_subtype":"pd_vd"}},
			{"channel":"CH3","int_alarm":{"int_subtype":"md"}}
		]}
	]}}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Alarms, 2)
	assert.Equal(t, AlarmPerson, parsed.Alarms[0].Type)
	assert.Equal(t, 17, parsed.Alarms[0].Channel)
	assert.Equal(t, "2026-03-14 11:59:58", parsed.Alarms[0].Timestamp)
	assert.Equal(t, AlarmMotion, parsed.Alarms[1].Type)
	assert.Equal(t, 3, parsed.Alarms[1].Channel)
	assert.Empty(t, parsed.Detections)
}

func TestParseEventArray(t *testing.T) {
	raw := []byte(`{"events":[
		{"type":"fd","channel":"CH2","timestamp":"2026-03-14 11:59:00"},
		{"alarm_type":"io","Chn":4}
	]}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Alarms, 2)
	assert.Equal(t, AlarmFace, parsed.Alarms[0].Type)
	assert.Equal(t, 2, parsed.Alarms[0].Channel)
	assert.Equal(t, AlarmIO, parsed.Alarms[1].Type)
	assert.Equal(t, 4, parsed.Alarms[1].Channel)
}

func TestParseFlatObject(t *testing.T) {
	raw := []byte(`{"alarm_type":"intrusion","channel":"5"}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Alarms, 1)
	assert.Equal(t, AlarmIntrusion, parsed.Alarms[0].Type)
	assert.Equal(t, 5, parsed.Alarms[0].Channel)
}

func TestParseUnknownShapeYieldsFallbackMotion(t *testing.T) {
	parsed, err := Parse([]byte(`{"something":"else"}`), now)
	require.NoError(t, err)
	require.Len(t, parsed.Alarms, 1)
	assert.Equal(t, AlarmMotion, parsed.Alarms[0].Type)
	assert.Equal(t, 0, parsed.Alarms[0].Channel)
}

func TestParseLongPollHeartbeat(t *testing.T) {
	parsed, err := Parse([]byte(`{"data":{"reader_id":"rdr-1","sequence":4,"lap_number":0}}`), now)
	require.NoError(t, err)
	assert.Empty(t, parsed.Alarms, "cursor-only envelope is not an alarm")
	assert.Empty(t, parsed.Detections)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`), now)
	assert.Error(t, err)
}

func TestParsePlateInfo(t *testing.T) {
	raw := []byte(`{"data":{"ai_snap_picture":{"PlateInfo":[
		{"Id":"A123BC77","SnapId":"A123BC77","GrpId":1,"Chn":15,"StrChn":"CH16",
		 "CarBrand":"Lada","CarColor":"white","StartTime":"2026-03-14 11:58:00",
		 "BgImg":"bg-b64","PlateImg":"crop-b64"}
	]}}}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	assert.Empty(t, parsed.Alarms, "pure snapshot payload carries no alarm")
	require.Len(t, parsed.Detections, 1)

	d := parsed.Detections[0]
	assert.Equal(t, AlarmPlate, d.Kind)
	assert.Equal(t, 16, d.Channel)
	assert.Equal(t, "A123BC77", d.PlateNumber)
	assert.Equal(t, ListAllowed, d.ListType)
	assert.Equal(t, "Разрешённые", d.ListTypeLabel)
	assert.Equal(t, "Lada", d.CarBrand)
	assert.Equal(t, "bg-b64", d.Image, "background image preferred over crop")
	assert.Equal(t, time.Date(2026, 3, 14, 11, 58, 0, 0, time.Local), d.OccurredAt)
	assert.NotEqual(t, d.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestParseStrangerPlateUsesSnapID(t *testing.T) {
	raw := []byte(`{"data":{"ai_snap_picture":{"PlateInfo":[
		{"Id":"","SnapId":"X999XX99","GrpId":3,"Chn":0}
	]}}}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Detections, 1)
	assert.Equal(t, "X999XX99", parsed.Detections[0].PlateNumber)
	assert.Equal(t, ListStranger, parsed.Detections[0].ListType)
	assert.Equal(t, "Незнакомец", parsed.Detections[0].ListTypeLabel)
	assert.Equal(t, 1, parsed.Detections[0].Channel, "bare Chn is 0-based")
}

func TestParseFaceInfo(t *testing.T) {
	raw := []byte(`{"data":{"ai_snap_picture":{"FaceInfo":[
		{"Id":42,"Name":"Ivan","Score":87,"GrpId":0,"StrChn":"CH2",
		 "Image2":"face-b64","Image4":"bg-b64","StartTime":"2026-03-14 11:57:00"}
	]}}}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Detections, 1)

	d := parsed.Detections[0]
	assert.Equal(t, AlarmFace, d.Kind)
	assert.Equal(t, "42", d.FaceID)
	assert.Equal(t, "Ivan", d.FaceName)
	assert.Equal(t, 87, d.Similarity)
	assert.Equal(t, ListAllowed, d.ListType, "face groups are 0-based")
	assert.Equal(t, "face-b64", d.Image)
	assert.Equal(t, 2, d.Channel)
}

func TestParseSnapedObjInfo(t *testing.T) {
	raw := []byte(`{"data":{"ai_snap_picture":{"SnapedObjInfo":[
		{"Type":1,"Chn":0,"SnapId":100,"ObjectImage":"obj-b64"},
		{"Type":2,"Chn":1,"SnapId":101},
		{"Type":6,"Chn":2,"SnapId":102}
	]}}}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Detections, 3)
	assert.Equal(t, AlarmPerson, parsed.Detections[0].Kind)
	assert.Equal(t, "obj-b64", parsed.Detections[0].Image)
	assert.Equal(t, AlarmVehicle, parsed.Detections[1].Kind)
	assert.Equal(t, AlarmLineCrossing, parsed.Detections[2].Kind)
	assert.Equal(t, 3, parsed.Detections[2].Channel)
}

func TestParseMixedPayload(t *testing.T) {
	raw := []byte(`{"data":{
		"alarm_list":[{"time":"t","channel_alarm":[{"channel":"CH1","int_alarm":{"int_subtype":"lpd"}}]}],
		"ai_snap_picture":{"PlateInfo":[{"Id":"B777OP","GrpId":2,"Chn":0}]}
	}}`)

	parsed, err := Parse(raw, now)
	require.NoError(t, err)
	require.Len(t, parsed.Alarms, 1)
	assert.Equal(t, AlarmPlate, parsed.Alarms[0].Type)
	require.Len(t, parsed.Detections, 1)
	assert.Equal(t, ListBlocked, parsed.Detections[0].ListType)
}

func TestFaceAndPlateListTypesDifferByBase(t *testing.T) {
	// Same numeric code means different lists for faces and plates.
	assert.Equal(t, ListAllowed, FaceListType(0))
	assert.Equal(t, ListBlocked, FaceListType(1))
	assert.Equal(t, ListStranger, FaceListType(2))
	assert.Equal(t, ListAllowed, PlateListType(1))
	assert.Equal(t, ListBlocked, PlateListType(2))
	assert.Equal(t, ListStranger, PlateListType(3))
	assert.Equal(t, ListUnknown, PlateListType(0))
}

func TestListTypeLabels(t *testing.T) {
	assert.Equal(t, "Разрешённые", ListAllowed.Label())
	assert.Equal(t, "Запрещённые", ListBlocked.Label())
	assert.Equal(t, "Незнакомец", ListStranger.Label())
	assert.Equal(t, "Неизвестные", ListUnknown.Label())
	assert.Equal(t, "В базе", ListKnown.Label())
	assert.Equal(t, "weird", ListType("weird").Label(), "unmapped types fall back to the raw value")
}
