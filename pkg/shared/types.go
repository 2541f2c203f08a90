package shared

import (
	"plexmover/pkg/transfer"
)

const (
	TaskTypeTransferBatch = "transfer_batch"
	TaskTypeWatchlistSync = "watchlist_sync"
	TaskTypeRemoteCommand = "remote_command"
)

// TransferBatchPayload carries an ordered batch of transfer jobs.
type TransferBatchPayload struct {
	Jobs []transfer.Job `json:"jobs"`
}

// WatchlistSyncPayload triggers a full watchlist pass. Empty for now; kept as
// a struct so fields can be added without changing task handling.
type WatchlistSyncPayload struct{}

// RemoteCommandPayload runs one command on a remote host, typically a
// post-transfer library scan.
type RemoteCommandPayload struct {
	HostID  string `json:"host_id"`
	Command string `json:"command"`
}
