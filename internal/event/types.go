package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlarmType is the normalized detection category. Raw vendor subtype
// strings never leave this package.
type AlarmType string

const (
	AlarmMotion         AlarmType = "motion"
	AlarmPerson         AlarmType = "person"
	AlarmVehicle        AlarmType = "vehicle"
	AlarmLineCrossing   AlarmType = "line_crossing"
	AlarmIntrusion      AlarmType = "intrusion"
	AlarmFace           AlarmType = "face"
	AlarmPlate          AlarmType = "plate"
	AlarmIO             AlarmType = "io"
	AlarmSOD            AlarmType = "stationary_object"
	AlarmSound          AlarmType = "sound"
	AlarmCrowd          AlarmType = "crowd"
	AlarmWander         AlarmType = "wander"
	AlarmRegionEntrance AlarmType = "region_entrance"
	AlarmRegionExiting  AlarmType = "region_exiting"
	AlarmOcclusion      AlarmType = "occlusion"
	AlarmPIR            AlarmType = "pir"
)

// AllAlarmTypes lists every normalized category, in the order alarm
// machines are pre-created for a channel.
var AllAlarmTypes = []AlarmType{
	AlarmMotion, AlarmPerson, AlarmVehicle, AlarmLineCrossing,
	AlarmIntrusion, AlarmFace, AlarmPlate, AlarmIO,
	AlarmSOD, AlarmSound, AlarmCrowd, AlarmWander,
	AlarmRegionEntrance, AlarmRegionExiting, AlarmOcclusion, AlarmPIR,
}

// vendorTypeMap covers every subtype string observed across firmware
// generations. Lookup is case-insensitive via NormalizeType.
var vendorTypeMap = map[string]AlarmType{
	"motion": AlarmMotion, "md": AlarmMotion, "vmd": AlarmMotion,
	"motiondetect": AlarmMotion, "videomotion": AlarmMotion,

	"person": AlarmPerson, "pd": AlarmPerson, "pvd_person": AlarmPerson,
	"human": AlarmPerson, "humandetect": AlarmPerson,

	"vehicle": AlarmVehicle, "vd": AlarmVehicle, "pvd_vehicle": AlarmVehicle,
	"car": AlarmVehicle, "vehicledetect": AlarmVehicle,

	"line_crossing": AlarmLineCrossing, "lcd": AlarmLineCrossing,
	"linecross": AlarmLineCrossing, "linecrossing": AlarmLineCrossing,

	"intrusion": AlarmIntrusion, "pid": AlarmIntrusion,
	"regiondetect": AlarmIntrusion, "perimeterintrusion": AlarmIntrusion,

	"face": AlarmFace, "fd": AlarmFace,
	"facedetect": AlarmFace, "facedetection": AlarmFace,

	"plate": AlarmPlate, "lpr": AlarmPlate, "lpd": AlarmPlate,
	"lp": AlarmPlate, "licenseplate": AlarmPlate,

	"io": AlarmIO, "alarminput": AlarmIO, "ioalarm": AlarmIO,

	"sod": AlarmSOD, "stationary_object": AlarmSOD,
	"stationaryobject": AlarmSOD, "sodalarm": AlarmSOD,

	"sound": AlarmSound, "rsd": AlarmSound, "sounddetection": AlarmSound,

	"crowd": AlarmCrowd, "crowddensity": AlarmCrowd, "cd": AlarmCrowd,

	"wander": AlarmWander, "wanderdetection": AlarmWander,

	"region_entrance": AlarmRegionEntrance, "regionentrance": AlarmRegionEntrance,
	"region_exiting": AlarmRegionExiting, "regionexiting": AlarmRegionExiting,

	"occlusion": AlarmOcclusion, "occlusiondetection": AlarmOcclusion,

	"pir": AlarmPIR,
}

// NormalizeType maps a raw vendor subtype to its category. Compound
// subtypes like "pd_vd" resolve by their prefix. Unknown strings fall back
// to motion, mirroring how the device itself treats unclassified alarms.
func NormalizeType(raw string) AlarmType {
	key := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := vendorTypeMap[key]; ok {
		return t
	}
	if i := strings.IndexByte(key, '_'); i > 0 {
		if t, ok := vendorTypeMap[key[:i]]; ok {
			return t
		}
	}
	return AlarmMotion
}

// Alarm is one normalized trigger extracted from a device payload.
type Alarm struct {
	Type       AlarmType `json:"alarm_type"`
	Channel    int       `json:"channel"`
	Timestamp  string    `json:"timestamp,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ListType classifies a detection against the device's allow/block lists.
type ListType string

const (
	ListAllowed  ListType = "allowed"
	ListBlocked  ListType = "blocked"
	ListStranger ListType = "stranger"
	ListKnown    ListType = "known"
	ListUnknown  ListType = "unknown"
)

// listTypeLabels carries the device UI's Russian display strings. They
// are stored alongside the machine-readable list_type so downstream
// dashboards can show them verbatim.
var listTypeLabels = map[ListType]string{
	ListAllowed:  "Разрешённые",
	ListBlocked:  "Запрещённые",
	ListStranger: "Незнакомец",
	ListUnknown:  "Неизвестные",
	ListKnown:    "В базе",
}

// Label returns the display string for the list classification.
func (l ListType) Label() string {
	if s, ok := listTypeLabels[l]; ok {
		return s
	}
	return string(l)
}

// FaceListType converts a face GrpId to a list classification. Face group
// codes are 0-based: 0=allow, 1=block, 2=stranger.
func FaceListType(grpID int) ListType {
	switch grpID {
	case 0:
		return ListAllowed
	case 1:
		return ListBlocked
	case 2:
		return ListStranger
	default:
		return ListKnown
	}
}

// PlateListType converts a plate GrpId to a list classification. Plate
// group codes are 1-based: 1=allow, 2=block, 3=stranger.
func PlateListType(grpID int) ListType {
	switch grpID {
	case 1:
		return ListAllowed
	case 2:
		return ListBlocked
	case 3:
		return ListStranger
	case 0:
		return ListUnknown
	default:
		return ListKnown
	}
}

// Detection is one enrichable AI capture (plate, face, person, vehicle,
// intrusion or line-crossing snapshot).
type Detection struct {
	ID         uuid.UUID `json:"id"`
	Kind       AlarmType `json:"kind"`
	Channel    int       `json:"channel"`
	ChannelRef string    `json:"channel_ref"`
	SnapID     string    `json:"snap_id,omitempty"`
	StartTime  string    `json:"start_time,omitempty"`
	EndTime    string    `json:"end_time,omitempty"`

	PlateNumber string `json:"plate_number,omitempty"`
	CarBrand    string `json:"car_brand,omitempty"`
	CarType     string `json:"car_type,omitempty"`
	CarColor    string `json:"car_color,omitempty"`
	Owner       string `json:"owner,omitempty"`

	FaceID     string `json:"face_id,omitempty"`
	FaceName   string `json:"face_name,omitempty"`
	Similarity int    `json:"similarity,omitempty"`

	GrpID         int      `json:"grp_id"`
	ListType      ListType `json:"list_type"`
	ListTypeLabel string   `json:"list_type_label"`

	Image string `json:"image,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`
	DedupKey   string    `json:"dedup_key"`
}
