package server

// Control messages travel as JSON on the reliable class. Snapshot batches
// and input frames use the binary wire codec on the unreliable class.

// JoinRequest is the first message a client sends after connecting.
type JoinRequest struct {
	Name string `json:"name,omitempty"`
}

// EntityInfo describes one replicated entity so a joining client can map
// wire ids back to network ids before the first snapshot arrives.
type EntityInfo struct {
	NetworkID string `json:"network_id"`
	Owner     string `json:"owner"`
	Authority uint8  `json:"authority"`
}

// Welcome answers a join: the client's identity, its entity, the codec
// epoch and everything already in the room.
type Welcome struct {
	ClientID             string       `json:"client_id"`
	NetworkID            string       `json:"network_id"`
	EpochUnixMs          int64        `json:"epoch_unix_ms"`
	SnapshotIntervalMs   int64        `json:"snapshot_interval_ms"`
	InterpolationDelayMs int64        `json:"interpolation_delay_ms"`
	Entities             []EntityInfo `json:"entities,omitempty"`
}

// SpawnNotice announces a new replicated entity to connected clients.
type SpawnNotice struct {
	Entity EntityInfo `json:"entity"`
}

// DespawnNotice announces that an entity left the room.
type DespawnNotice struct {
	NetworkID string `json:"network_id"`
}
