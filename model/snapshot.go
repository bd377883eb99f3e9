package model

// SnapshotVersion is bumped whenever the persisted document changes shape.
const SnapshotVersion = 1

// Snapshot is the whole persisted state of a chat server. Messages are kept
// in global insertion order so per-channel order survives a reload.
type Snapshot struct {
	Version  int               `json:"version"`
	Accounts []Account         `json:"accounts"`
	Channels []Channel         `json:"channels"`
	Messages []Message         `json:"messages"`
	Gifts    []GiftTransaction `json:"gifts"`
}
