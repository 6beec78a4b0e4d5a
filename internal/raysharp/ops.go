package raysharp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// searchPageSize is the GetByIndex page the firmware accepts without
// truncating the response.
const searchPageSize = 50

// Device wraps a Client with typed operations and channel validation. It
// caches the channel table from the last ChannelInfo call so that
// capability checks and unknown-channel rejection need no network round
// trip. The cache is refreshed by the poll loop while command handlers
// read it, hence the lock.
type Device struct {
	client *Client

	mu       sync.RWMutex
	channels map[int]Channel
}

// NewDevice wraps an authenticated-capable client.
func NewDevice(client *Client) *Device {
	return &Device{client: client, channels: make(map[int]Channel)}
}

// Client exposes the underlying session client.
func (d *Device) Client() *Client { return d.client }

// DeviceInfo fetches the device identity block.
func (d *Device) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	raw, err := d.client.CallRead(ctx, pathDeviceInfo, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	var info DeviceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: device info: %v", ErrBadResponse, err)
	}
	return info, nil
}

// Channels fetches the channel table and refreshes the local cache.
func (d *Device) Channels(ctx context.Context) ([]Channel, error) {
	raw, err := d.client.CallRead(ctx, pathChannelInfo, nil)
	if err != nil {
		return nil, err
	}
	channels, err := parseChannels(raw)
	if err != nil {
		return nil, err
	}
	cache := make(map[int]Channel, len(channels))
	for _, ch := range channels {
		cache[ch.ID] = ch
	}
	d.mu.Lock()
	d.channels = cache
	d.mu.Unlock()
	return channels, nil
}

// Channel returns the cached channel entry for a 1-based id.
func (d *Device) Channel(id int) (Channel, error) {
	d.mu.RLock()
	ch, ok := d.channels[id]
	d.mu.RUnlock()
	if !ok {
		return Channel{}, fmt.Errorf("%w: CH%d", ErrUnknownChannel, id)
	}
	return ch, nil
}

func (d *Device) requireChannel(id int, cap string) (Channel, error) {
	ch, err := d.Channel(id)
	if err != nil {
		return Channel{}, err
	}
	if cap != "" && !ch.Supports(cap) {
		return Channel{}, fmt.Errorf("%w: CH%d lacks %s", ErrUnsupported, id, cap)
	}
	return ch, nil
}

// SystemInfo returns the raw base system info block.
func (d *Device) SystemInfo(ctx context.Context) (json.RawMessage, error) {
	return d.client.CallRead(ctx, pathSystemInfo, nil)
}

// NetworkState returns the raw network state block.
func (d *Device) NetworkState(ctx context.Context) (json.RawMessage, error) {
	return d.client.CallRead(ctx, pathNetworkState, nil)
}

// RecordInfo returns per-channel recording state.
func (d *Device) RecordInfo(ctx context.Context) (json.RawMessage, error) {
	return d.client.CallRead(ctx, pathRecordInfo, nil)
}

// Disks returns the storage table.
func (d *Device) Disks(ctx context.Context) ([]DiskInfo, error) {
	raw, err := d.client.CallRead(ctx, pathDiskGet, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		DiskInfo []DiskInfo `json:"disk_info"`
		Disks    []DiskInfo `json:"disks"`
		Disk     []DiskInfo `json:"disk"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: disk info: %v", ErrBadResponse, err)
	}
	switch {
	case len(payload.DiskInfo) > 0:
		return payload.DiskInfo, nil
	case len(payload.Disks) > 0:
		return payload.Disks, nil
	default:
		return payload.Disk, nil
	}
}

// StreamURL returns the RTSP/HTTP stream URL for a channel.
func (d *Device) StreamURL(ctx context.Context, channel int, mainStream bool) (string, error) {
	if _, err := d.requireChannel(channel, ""); err != nil {
		return "", err
	}
	stream := "SubStream"
	if mainStream {
		stream = "MainStream"
	}
	raw, err := d.client.CallRead(ctx, pathStreamURL, map[string]any{
		"channel": ChannelRef(channel),
		"stream":  stream,
	})
	if err != nil {
		return "", err
	}
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.URL == "" {
		return "", fmt.Errorf("%w: stream url", ErrBadResponse)
	}
	return payload.URL, nil
}

// Snapshot captures a still frame from a channel.
func (d *Device) Snapshot(ctx context.Context, channel int) (Snapshot, error) {
	if _, err := d.requireChannel(channel, ""); err != nil {
		return Snapshot{}, err
	}
	raw, err := d.client.CallRead(ctx, pathSnapshot, map[string]any{
		"channel": ChannelRef(channel),
	})
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot: %v", ErrBadResponse, err)
	}
	if snap.Data == "" {
		return Snapshot{}, fmt.Errorf("%w: snapshot: empty image", ErrBadResponse)
	}
	snap.Channel = channel
	return snap, nil
}

// AlarmConfig reads one alarm configuration block.
func (d *Device) AlarmConfig(ctx context.Context, kind AlarmKind) (json.RawMessage, error) {
	paths, ok := alarmConfigPaths[kind]
	if !ok {
		return nil, fmt.Errorf("%w: alarm kind %q", ErrUnsupported, kind)
	}
	return d.client.CallRead(ctx, paths.get, nil)
}

// SetAlarmConfig writes one alarm configuration block. Writes are attempted
// exactly once; a 401 still goes through the usual re-login retry inside
// Call, but transport failures are not re-driven.
func (d *Device) SetAlarmConfig(ctx context.Context, kind AlarmKind, cfg json.RawMessage) error {
	paths, ok := alarmConfigPaths[kind]
	if !ok || paths.set == "" {
		return fmt.Errorf("%w: alarm kind %q is read-only", ErrUnsupported, kind)
	}
	_, err := d.client.Call(ctx, paths.set, cfg)
	return err
}

// Disarming reads the per-channel disarm switch state.
func (d *Device) Disarming(ctx context.Context) (json.RawMessage, error) {
	return d.client.CallRead(ctx, pathDisarming, nil)
}

// SetDisarming writes the disarm switch state.
func (d *Device) SetDisarming(ctx context.Context, cfg json.RawMessage) error {
	_, err := d.client.Call(ctx, pathDisarmingSet, cfg)
	return err
}

// EventPushConfig is the device-side push subscription table entry.
type EventPushConfig struct {
	Addr              string `json:"addr"`
	Port              int    `json:"port"`
	URL               string `json:"url"`
	Enable            bool   `json:"enable"`
	Method            string `json:"method"`
	AuthEnable        bool   `json:"auth_enable"`
	KeepAliveInterval string `json:"keep_alive_interval"`
	PushWay           string `json:"push_way"`
}

// EventPush reads the current push target table.
func (d *Device) EventPush(ctx context.Context) (EventPushConfig, error) {
	raw, err := d.client.CallRead(ctx, pathEventPushGet, nil)
	if err != nil {
		return EventPushConfig{}, err
	}
	var payload struct {
		Params struct {
			Table EventPushConfig `json:"table"`
		} `json:"params"`
		Table EventPushConfig `json:"table"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return EventPushConfig{}, fmt.Errorf("%w: event push: %v", ErrBadResponse, err)
	}
	if payload.Params.Table.Addr != "" || payload.Params.Table.Enable {
		return payload.Params.Table, nil
	}
	return payload.Table, nil
}

// ConfigureEventPush points the device's HTTP event push at addr:port/url.
// Set mirrors the nested params.table layout that Get returns.
func (d *Device) ConfigureEventPush(ctx context.Context, name, addr string, port int, url string) error {
	cfg := EventPushConfig{
		Addr:              addr,
		Port:              port,
		URL:               url,
		Enable:            true,
		Method:            "POST",
		AuthEnable:        false,
		KeepAliveInterval: "0",
		PushWay:           "HTTP",
	}
	_, err := d.client.Call(ctx, pathEventPushSet, map[string]any{
		"params": map[string]any{
			"name":  name,
			"table": cfg,
		},
	})
	return err
}

// PTZ drives a pan/tilt/zoom command on a channel. state is PTZStateStart
// or PTZStateStop; presetNum is only meaningful for preset commands.
func (d *Device) PTZ(ctx context.Context, channel int, cmd PTZCommand, state string, speed, presetNum int) error {
	if _, err := d.requireChannel(channel, CapPTZ); err != nil {
		return err
	}
	if !ptzCommands[cmd] {
		return fmt.Errorf("%w: ptz command %q", ErrUnsupported, cmd)
	}
	if state != PTZStateStart && state != PTZStateStop {
		return fmt.Errorf("raysharp: ptz state must be %q or %q", PTZStateStart, PTZStateStop)
	}
	if speed <= 0 {
		speed = 4
	}
	_, err := d.client.Call(ctx, pathPTZControl, map[string]any{
		"channel":    ChannelRef(channel),
		"cmd":        string(cmd),
		"state":      state,
		"speed":      speed,
		"preset_num": presetNum,
	})
	return err
}

// ManualAlarm toggles an alarm output relay.
func (d *Device) ManualAlarm(ctx context.Context, output int, on bool) error {
	state := "Off"
	if on {
		state = "On"
	}
	_, err := d.client.Call(ctx, pathManualAlarmSet, map[string]any{
		"alarm_out": output,
		"status":    state,
	})
	return err
}

// RecordSpan is one recorded segment found by SearchRecords.
type RecordSpan struct {
	Channel   string `json:"channel"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Type      string `json:"record_type"`
	Size      int64  `json:"size"`
}

// SearchRecords queries the recording index over a time window.
func (d *Device) SearchRecords(ctx context.Context, channels []int, from, to time.Time) ([]RecordSpan, error) {
	refs := make([]string, 0, len(channels))
	for _, id := range channels {
		if _, err := d.Channel(id); err != nil {
			return nil, err
		}
		refs = append(refs, ChannelRef(id))
	}
	raw, err := d.client.CallRead(ctx, pathRecordSearch, map[string]any{
		"channel":     refs,
		"start_date":  from.Format("01/02/2006"),
		"start_time":  from.Format("15:04:05"),
		"end_date":    to.Format("01/02/2006"),
		"end_time":    to.Format("15:04:05"),
		"record_type": 255,
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		RecordList []RecordSpan `json:"record_list"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: record search: %v", ErrBadResponse, err)
	}
	return payload.RecordList, nil
}

// VhdLogCount returns today's per-category detection counters. The Type
// order in the request fixes the index order of the response Count array.
func (d *Device) VhdLogCount(ctx context.Context, from, to time.Time) (VhdCounts, error) {
	raw, err := d.client.CallRead(ctx, pathAIVhdCount, map[string]any{
		"MsgId":     nil,
		"StartTime": from.Format("2006-01-02 15:04:05"),
		"EndTime":   to.Format("2006-01-02 15:04:05"),
		"Type":      []int{0, 1, 2, 10},
	})
	if err != nil {
		return VhdCounts{}, err
	}
	return parseVhdCounts(raw)
}

// SnappedPlate is one AI plate capture from the search endpoints.
type SnappedPlate struct {
	ID        int64  `json:"Id"`
	SnapID    int64  `json:"SnapId"`
	Channel   int    `json:"Chn"`
	StartTime string `json:"StartTime"`
	PlateID   string `json:"PlateId"`
	GrpID     int    `json:"GrpId"`
	CarBrand  string `json:"CarBrand"`
	CarType   string `json:"CarType"`
	CarColor  string `json:"CarColor"`
	BgImg     string `json:"BgImg"`
	PlateImg  string `json:"PlateImg"`
}

// SnappedFace is one AI face capture from the search endpoints.
type SnappedFace struct {
	ID        int64  `json:"Id"`
	Channel   int    `json:"Chn"`
	StartTime string `json:"StartTime"`
	GrpID     int    `json:"GrpId"`
	Score     int    `json:"Score"`
	Name      string `json:"Name"`
	FaceImg   string `json:"Image2"`
	BgImg     string `json:"Image4"`
}

type searchResult struct {
	Count   int     `json:"Count"`
	MsgID   *string `json:"MsgId"`
	Indexes []int64 `json:"Indexes"`
}

// aiChns renders the 0-based channel array the AI search wire expects,
// validating ids against the channel cache first.
func (d *Device) aiChns(channels []int) ([]int, error) {
	if len(channels) == 0 {
		d.mu.RLock()
		chns := make([]int, 0, len(d.channels))
		for id := range d.channels {
			chns = append(chns, id-1)
		}
		d.mu.RUnlock()
		return chns, nil
	}
	chns := make([]int, 0, len(channels))
	for _, id := range channels {
		if _, err := d.Channel(id); err != nil {
			return nil, err
		}
		chns = append(chns, id-1)
	}
	return chns, nil
}

// SearchPlates runs the two-step plate search: Search yields the matching
// index list, GetByIndex pages the rows out 50 at a time.
func (d *Device) SearchPlates(ctx context.Context, channels []int, from, to time.Time) ([]SnappedPlate, error) {
	chns, err := d.aiChns(channels)
	if err != nil {
		return nil, err
	}
	raw, err := d.client.CallRead(ctx, pathAIPlateSearch, map[string]any{
		"MsgId":     nil,
		"Chn":       chns,
		"StartTime": from.Format("2006-01-02 15:04:05"),
		"EndTime":   to.Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return nil, err
	}
	var res searchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: plate search: %v", ErrBadResponse, err)
	}

	plates := make([]SnappedPlate, 0, res.Count)
	for offset := 0; offset < len(res.Indexes); offset += searchPageSize {
		end := offset + searchPageSize
		if end > len(res.Indexes) {
			end = len(res.Indexes)
		}
		pageRaw, err := d.client.CallRead(ctx, pathAIObjectByIndex, map[string]any{
			"MsgId":     res.MsgID,
			"SearchIds": res.Indexes[offset:end],
		})
		if err != nil {
			return nil, err
		}
		var page struct {
			ObjInfo []SnappedPlate `json:"SnapedObjInfo"`
		}
		if err := json.Unmarshal(pageRaw, &page); err != nil {
			return nil, fmt.Errorf("%w: plate page: %v", ErrBadResponse, err)
		}
		for i := range page.ObjInfo {
			page.ObjInfo[i].Channel++ // wire is 0-based
		}
		plates = append(plates, page.ObjInfo...)
	}
	return plates, nil
}

// SearchFaces runs the two-step face search, same pagination contract as
// SearchPlates.
func (d *Device) SearchFaces(ctx context.Context, channels []int, from, to time.Time) ([]SnappedFace, error) {
	chns, err := d.aiChns(channels)
	if err != nil {
		return nil, err
	}
	raw, err := d.client.CallRead(ctx, pathAIFaceSearch, map[string]any{
		"MsgId":     nil,
		"Chn":       chns,
		"StartTime": from.Format("2006-01-02 15:04:05"),
		"EndTime":   to.Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return nil, err
	}
	var res searchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: face search: %v", ErrBadResponse, err)
	}

	faces := make([]SnappedFace, 0, res.Count)
	for offset := 0; offset < len(res.Indexes); offset += searchPageSize {
		end := offset + searchPageSize
		if end > len(res.Indexes) {
			end = len(res.Indexes)
		}
		pageRaw, err := d.client.CallRead(ctx, pathAIFaceByIndex, map[string]any{
			"MsgId":     res.MsgID,
			"SearchIds": res.Indexes[offset:end],
		})
		if err != nil {
			return nil, err
		}
		var page struct {
			FaceInfo []SnappedFace `json:"SnapedFaceInfo"`
		}
		if err := json.Unmarshal(pageRaw, &page); err != nil {
			return nil, fmt.Errorf("%w: face page: %v", ErrBadResponse, err)
		}
		for i := range page.FaceInfo {
			page.FaceInfo[i].Channel++
		}
		faces = append(faces, page.FaceInfo...)
	}
	return faces, nil
}

// AddedPlates resolves registered-plate database rows by id.
func (d *Device) AddedPlates(ctx context.Context, ids []string) ([]RegisteredPlate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := d.client.CallRead(ctx, pathAIAddedPlates, map[string]any{
		"MsgId": nil,
		"Id":    ids,
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		PlateInfo []RegisteredPlate `json:"PlateInfo"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: added plates: %v", ErrBadResponse, err)
	}
	return payload.PlateInfo, nil
}

// FaceGroups fetches the face-group table.
func (d *Device) FaceGroups(ctx context.Context) ([]FaceGroup, error) {
	raw, err := d.client.CallRead(ctx, pathAIFDGroups, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Groups []FaceGroup `json:"group"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: face groups: %v", ErrBadResponse, err)
	}
	return payload.Groups, nil
}

// EventCheckResult is one long-poll notification batch.
type EventCheckResult struct {
	ReaderID  string          `json:"reader_id"`
	Sequence  int64           `json:"sequence"`
	LapNumber int64           `json:"lap_number"`
	Payload   json.RawMessage `json:"-"`
}

// EventCheck polls the notification stream. readerID empty means subscribe
// fresh; sequence and lap resume an existing subscription. The full raw
// payload is returned alongside the cursor fields so the event parser can
// extract alarms and AI snapshots.
func (d *Device) EventCheck(ctx context.Context, readerID string, sequence, lap int64) (EventCheckResult, error) {
	data := map[string]any{}
	if readerID != "" {
		data["reader_id"] = readerID
		data["sequence"] = sequence
		data["lap_number"] = lap
	}
	raw, err := d.client.Call(ctx, pathEventCheck, data)
	if err != nil {
		return EventCheckResult{}, err
	}
	var res EventCheckResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return EventCheckResult{}, fmt.Errorf("%w: event check: %v", ErrBadResponse, err)
	}
	res.Payload = raw
	return res, nil
}

// Reboot restarts the device. The session is invalidated locally since the
// device drops it during restart.
func (d *Device) Reboot(ctx context.Context) error {
	_, err := d.client.Call(ctx, pathReboot, nil)
	if err != nil {
		return err
	}
	d.client.mu.Lock()
	gen := d.client.loginGen
	d.client.mu.Unlock()
	d.client.invalidate(gen)
	return nil
}
