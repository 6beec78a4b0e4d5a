package raysharp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DeviceInfo is the login-time identity block of the NVR.
type DeviceInfo struct {
	DeviceName   string `json:"device_name"`
	DeviceType   string `json:"device_type"`
	MacAddr      string `json:"mac_addr"`
	SerialNo     string `json:"device_id"`
	Firmware     string `json:"firmware_version"`
	ChannelCount int    `json:"channel_count"`
}

// Channel is one camera input as reported by ChannelInfo/Get.
type Channel struct {
	ID        int
	Name      string
	Online    bool
	VideoLoss bool
	PTZ       bool
	// Ability is the raw intelligent_ability string, e.g. "fd,lpd,pvd".
	// Empty means the channel has no AI engine.
	Ability string
}

// Capability keys checked by Supports.
const (
	CapPTZ        = "ptz"
	CapAIFace     = "ai_face"
	CapAIPlate    = "ai_plate"
	CapAIPerson   = "ai_person"
	CapAIVehicle  = "ai_vehicle"
	CapAICrossCnt = "ai_crosscount"
	CapAIHeatmap  = "ai_heatmap"
)

// abilityTokens maps capability keys to the vendor tokens that imply them.
var abilityTokens = map[string][]string{
	CapAIFace:     {"fd", "face"},
	CapAIPlate:    {"lpd", "lpr", "plate"},
	CapAIPerson:   {"pvd", "pd", "human"},
	CapAIVehicle:  {"pvd", "vd", "vehicle"},
	CapAICrossCnt: {"cc", "crosscount"},
	CapAIHeatmap:  {"heatmap", "hm"},
}

// Supports reports whether the channel exposes a capability. PTZ comes from
// the channel flag; AI capabilities from the ability token list.
func (ch Channel) Supports(cap string) bool {
	if cap == CapPTZ {
		return ch.PTZ
	}
	tokens, ok := abilityTokens[cap]
	if !ok {
		return false
	}
	ability := strings.ToLower(ch.Ability)
	for _, t := range tokens {
		for _, got := range strings.FieldsFunc(ability, func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
			if got == t {
				return true
			}
		}
	}
	return false
}

// channelInfoPayload mirrors the nested ChannelInfo/Get response:
// {"channel_param": {"items": [{"channel":"CH1", ...}]}}
type channelInfoPayload struct {
	ChannelParam struct {
		Items []channelItem `json:"items"`
	} `json:"channel_param"`
	// Older firmware answers with a flat list.
	Channels []channelItem `json:"channels"`
}

type channelItem struct {
	Channel            string      `json:"channel"`
	ChannelName        string      `json:"channel_name"`
	ConnectStatus      string      `json:"connect_status"`
	VideoLoss          interface{} `json:"videoloss"`
	PTZ                interface{} `json:"ptz"`
	IntelligentAbility string      `json:"intelligent_ability"`
}

func parseChannels(raw json.RawMessage) ([]Channel, error) {
	var payload channelInfoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: channel info: %v", ErrBadResponse, err)
	}
	items := payload.ChannelParam.Items
	if len(items) == 0 {
		items = payload.Channels
	}
	channels := make([]Channel, 0, len(items))
	for i, it := range items {
		id := ChannelNum(it.Channel)
		if id == 0 {
			id = i + 1 // positional fallback, channels are 1-based
		}
		channels = append(channels, Channel{
			ID:        id,
			Name:      it.ChannelName,
			Online:    strings.EqualFold(it.ConnectStatus, "online"),
			VideoLoss: truthy(it.VideoLoss),
			PTZ:       truthy(it.PTZ),
			Ability:   it.IntelligentAbility,
		})
	}
	return channels, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(t)
		return s == "true" || s == "1" || s == "yes" || s == "on"
	case float64:
		return t != 0
	}
	return false
}

// ChannelNum converts a wire channel ref like "CH17" or "17" to its 1-based
// integer id. Unparseable refs yield 0.
func ChannelNum(ref string) int {
	ref = strings.TrimSpace(ref)
	if len(ref) > 2 && strings.EqualFold(ref[:2], "CH") {
		ref = ref[2:]
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ChannelRef renders a 1-based channel id in wire form ("CH3").
func ChannelRef(id int) string {
	return fmt.Sprintf("CH%d", id)
}

// Snapshot is a captured still frame, base64-encoded.
type Snapshot struct {
	Format  string `json:"img_format"`
	Encode  string `json:"img_encodes"`
	Time    string `json:"ima_time"`
	Data    string `json:"ima_data"`
	Channel int    `json:"-"`
}

// DiskInfo is one disk row from StorageConfig/Disk/Get.
type DiskInfo struct {
	Name       string `json:"disk_name"`
	Model      string `json:"model"`
	State      string `json:"state"`
	TotalSpace string `json:"total_space"`
	FreeSpace  string `json:"free_space"`
}

// VhdCounts carries today's AI detection counters. Wire order is fixed by
// the request's Type array [0,1,2,10].
type VhdCounts struct {
	Faces    int
	Persons  int
	Vehicles int
	Plates   int
}

func parseVhdCounts(raw json.RawMessage) (VhdCounts, error) {
	var payload struct {
		Count []int `json:"Count"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return VhdCounts{}, fmt.Errorf("%w: vhd count: %v", ErrBadResponse, err)
	}
	var c VhdCounts
	if len(payload.Count) > 0 {
		c.Faces = payload.Count[0]
	}
	if len(payload.Count) > 1 {
		c.Persons = payload.Count[1]
	}
	if len(payload.Count) > 2 {
		c.Vehicles = payload.Count[2]
	}
	if len(payload.Count) > 3 {
		c.Plates = payload.Count[3]
	}
	return c, nil
}

// RegisteredPlate is one row of the NVR plate database.
type RegisteredPlate struct {
	PlateID  string `json:"Id"`
	Owner    string `json:"Owner"`
	CarBrand string `json:"CarBrand"`
	CarType  string `json:"CarType"`
	GrpID    int    `json:"GrpId"`
}

// FaceGroup is one face-group definition (FDGroup/Get). Policy is 0-based:
// 0=allow, 1=block, 2=stranger.
type FaceGroup struct {
	GroupID int    `json:"group_id"`
	Name    string `json:"name"`
	Policy  int    `json:"policy"`
}

// PTZCommand is the vendor PTZ command enum. Free-form strings never cross
// this boundary; API input is validated against the known set.
type PTZCommand string

const (
	PTZUp          PTZCommand = "Ptz_Cmd_Up"
	PTZDown        PTZCommand = "Ptz_Cmd_Down"
	PTZLeft        PTZCommand = "Ptz_Cmd_Left"
	PTZRight       PTZCommand = "Ptz_Cmd_Right"
	PTZUpLeft      PTZCommand = "Ptz_Cmd_UpLeft"
	PTZUpRight     PTZCommand = "Ptz_Cmd_UpRight"
	PTZDownLeft    PTZCommand = "Ptz_Cmd_DownLeft"
	PTZDownRight   PTZCommand = "Ptz_Cmd_DownRight"
	PTZZoomIn      PTZCommand = "Ptz_Cmd_ZoomAdd"
	PTZZoomOut     PTZCommand = "Ptz_Cmd_ZoomDec"
	PTZFocusAdd    PTZCommand = "Ptz_Cmd_FocusAdd"
	PTZFocusDec    PTZCommand = "Ptz_Cmd_FocusDec"
	PTZStop        PTZCommand = "Ptz_Cmd_Stop"
	PTZPresetGoto  PTZCommand = "Ptz_Cmd_GotoPreset"
	PTZPresetSet   PTZCommand = "Ptz_Cmd_SetPreset"
	PTZPresetClear PTZCommand = "Ptz_Cmd_ClearPreset"
	PTZAutoFocus   PTZCommand = "Ptz_Btn_AutoFocus"
	PTZRefresh     PTZCommand = "Ptz_Btn_Refresh"
)

var ptzCommands = map[PTZCommand]bool{
	PTZUp: true, PTZDown: true, PTZLeft: true, PTZRight: true,
	PTZUpLeft: true, PTZUpRight: true, PTZDownLeft: true, PTZDownRight: true,
	PTZZoomIn: true, PTZZoomOut: true, PTZFocusAdd: true, PTZFocusDec: true,
	PTZStop: true, PTZPresetGoto: true, PTZPresetSet: true, PTZPresetClear: true,
	PTZAutoFocus: true, PTZRefresh: true,
}

// ParsePTZCommand validates a wire PTZ command string.
func ParsePTZCommand(s string) (PTZCommand, error) {
	cmd := PTZCommand(s)
	if !ptzCommands[cmd] {
		return "", fmt.Errorf("raysharp: unknown ptz command %q", s)
	}
	return cmd, nil
}

// PTZ motion states.
const (
	PTZStateStart = "Start"
	PTZStateStop  = "Stop"
)

// AlarmKind names one device-side alarm configuration block for the
// alarm-config read/write operations.
type AlarmKind string

const (
	AlarmKindMotion    AlarmKind = "motion"
	AlarmKindIO        AlarmKind = "io"
	AlarmKindException AlarmKind = "exception"
	AlarmKindPIR       AlarmKind = "pir"
	AlarmKindFD        AlarmKind = "fd"
	AlarmKindLCD       AlarmKind = "lcd"
	AlarmKindPID       AlarmKind = "pid"
	AlarmKindSOD       AlarmKind = "sod"
)

var alarmConfigPaths = map[AlarmKind]struct{ get, set string }{
	AlarmKindMotion:    {pathMotionAlarm, pathMotionAlarmSet},
	AlarmKindIO:        {pathIOAlarm, pathIOAlarmSet},
	AlarmKindException: {pathExceptionAlarm, ""},
	AlarmKindPIR:       {pathPIRAlarm, ""},
	AlarmKindFD:        {pathAlarmFD, ""},
	AlarmKindLCD:       {pathAlarmLCD, ""},
	AlarmKindPID:       {pathAlarmPID, ""},
	AlarmKindSOD:       {pathAlarmSOD, ""},
}
