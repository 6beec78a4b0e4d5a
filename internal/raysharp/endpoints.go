package raysharp

// Vendor API paths. All calls are POST with a {"version":"1.0","data":{}}
// envelope; mutating endpoints additionally require the CSRF token header.
const (
	pathLogin      = "/API/Web/Login"
	pathLogout     = "/API/Web/Logout"
	pathHeartbeat  = "/API/Login/Heartbeat"
	pathEventCheck = "/API/Event/Check"

	pathDeviceInfo  = "/API/Login/DeviceInfo/Get"
	pathChannelInfo = "/API/Login/ChannelInfo/Get"

	pathSystemInfo   = "/API/SystemInfo/Base/Get"
	pathNetworkState = "/API/SystemInfo/Network/Get"
	pathRecordInfo   = "/API/SystemInfo/Record/Get"

	pathDiskGet = "/API/StorageConfig/Disk/Get"

	pathStreamURL = "/API/Preview/StreamUrl/Get"
	pathSnapshot  = "/API/Snapshot/Get"

	pathMotionAlarm    = "/API/AlarmConfig/Motion/Get"
	pathMotionAlarmSet = "/API/AlarmConfig/Motion/Set"
	pathIOAlarm        = "/API/AlarmConfig/IO/Get"
	pathIOAlarmSet     = "/API/AlarmConfig/IO/Set"
	pathExceptionAlarm = "/API/AlarmConfig/Exception/Get"
	pathPIRAlarm       = "/API/AlarmConfig/PIR/Get"
	pathAlarmFD        = "/API/AlarmConfig/Intelligent/FD/Get"
	pathAlarmLCD       = "/API/AlarmConfig/Intelligent/LCD/Get"
	pathAlarmPID       = "/API/AlarmConfig/Intelligent/PID/Get"
	pathAlarmSOD       = "/API/AlarmConfig/Intelligent/SOD/Get"

	pathDisarming    = "/API/AlarmConfig/Disarming/Get"
	pathDisarmingSet = "/API/AlarmConfig/Disarming/Set"

	pathEventPushGet = "/API/AlarmConfig/EventPush/Get"
	pathEventPushSet = "/API/AlarmConfig/EventPush/Set"

	pathPTZControl     = "/API/PreviewChannel/PTZ/Control"
	pathManualAlarmSet = "/API/PreviewChannel/ManualAlarm/Set"

	pathRecordSearch = "/API/Playback/SearchRecord/Search"

	pathAIVhdCount      = "/API/AI/VhdLogCount/Get"
	pathAIFaceSearch    = "/API/AI/SnapedFaces/Search"
	pathAIFaceByIndex   = "/API/AI/SnapedFaces/GetByIndex"
	pathAIPlateSearch   = "/API/AI/SnapedObjects/SearchPlate"
	pathAIObjectByIndex = "/API/AI/SnapedObjects/GetByIndex"
	pathAIAddedPlates   = "/API/AI/AddedPlates/GetById"
	pathAIFDGroups      = "/API/AI/FDGroup/Get"

	pathReboot = "/API/Maintenance/DeviceReboot/Set"
)
