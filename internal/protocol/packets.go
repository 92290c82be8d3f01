// Package protocol implements the Quake II family wire format used between
// fragline and game clients: opcode tables, the bounded message codec, the
// entity and usercmd delta encodings and userinfo strings. All multi-byte
// integers are little-endian.
package protocol

// Client to server opcodes. The upper three bits of a move opcode carry the
// duplicate frame count for enhanced moves.
const (
	ClcBad           byte = 0
	ClcNop           byte = 1
	ClcMove          byte = 2  // legacy three-command move
	ClcUserinfo      byte = 3  // full userinfo string
	ClcStringCmd     byte = 4  // console command
	ClcSetting       byte = 5  // R1Q2 per-field setting
	ClcMoveNoDelta   byte = 10 // Q2PRO enhanced move without frame ack
	ClcMoveBatched   byte = 11 // Q2PRO enhanced move
	ClcUserinfoDelta byte = 12 // Q2PRO single key/value userinfo change
)

// Server to client opcodes.
const (
	SvcBad                 byte = 0
	SvcMuzzleFlash         byte = 1
	SvcMuzzleFlash2        byte = 2
	SvcTempEntity          byte = 3
	SvcLayout              byte = 4
	SvcInventory           byte = 5
	SvcNop                 byte = 6
	SvcDisconnect          byte = 7
	SvcReconnect           byte = 8
	SvcSound               byte = 9
	SvcPrint               byte = 10
	SvcStuffText           byte = 11
	SvcServerData          byte = 12
	SvcConfigString        byte = 13
	SvcSpawnBaseline       byte = 14
	SvcCenterPrint         byte = 15
	SvcDownload            byte = 16
	SvcPlayerInfo          byte = 17
	SvcPacketEntities      byte = 18
	SvcDeltaPacketEntities byte = 19
	SvcFrame               byte = 20
	SvcZPacket             byte = 21 // deflated payload
	SvcZDownload           byte = 22
	SvcGameState           byte = 23 // Q2PRO bulk configstrings + baselines
)

// Print levels for SvcPrint.
const (
	PrintLow    byte = 0
	PrintMedium byte = 1
	PrintHigh   byte = 2
	PrintChat   byte = 3
)

// Opcode byte layout.
const (
	SvcmdBits = 5
	SvcmdMask = (1 << SvcmdBits) - 1
)

// Per-datagram and structural limits.
const (
	MaxMsgLen            = 0x8000 // scratch message capacity
	MaxPacketLen         = 1400
	MaxPacketLenWritable = MaxPacketLen - 10
	MaxPacketFrames      = 4
	MaxPacketUsercmds    = 32
	MaxPacketStringCmds  = 8
	MaxPacketUserinfos   = 8

	MaxStringChars = 1024
	MaxInfoString  = 512
	MaxInfoKey     = 64
	MaxInfoValue   = 64

	MaxQPath         = 64
	MaxConfigStrings = 2080
	MaxEdicts        = 1024

	// CSName is the configstring index holding the map display name.
	CSName = 0
)

// R1Q2 client settings addressed by ClcSetting.
const (
	SettingNoGun = iota
	SettingNoBlend
	SettingRecording
	SettingPlayerUpdates
	SettingFPS
	SettingsMax
)
