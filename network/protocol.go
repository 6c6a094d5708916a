package network

// Message ids of the UI feed. The client only sends heartbeats and snapshot requests.
const (
	MsgTypeHeartbeat       = 1
	MsgTypeSnapshotRequest = 101

	MsgTypeSnapshot      = 301
	MsgTypeFirstTurn     = 302
	MsgTypeTurnChanged   = 303
	MsgTypeHealthChanged = 304
	MsgTypeBattleEnded   = 305
)
