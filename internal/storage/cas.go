package storage

import "context"

// NodeStatus describes the health of a content-store node as seen from this
// process. It is embedded in the health and storage-status API responses.
type NodeStatus struct {
	Available bool   `json:"available"`
	PeerID    string `json:"peer_id,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ContentStore is the replication target for analysis artifacts. Put and Get
// move raw artifact bytes; Pin asks the node to retain previously stored
// content. Implementations must be safe for concurrent use and must honor
// context cancellation on every call.
type ContentStore interface {
	// Put stores data and returns the node's content identifier for it.
	// It does not pin; pinning is a separate, explicit step.
	Put(ctx context.Context, data []byte) (string, error)

	// Pin marks stored content as pinned so the node will not garbage-collect
	// it. Pinning an already-pinned identifier succeeds.
	Pin(ctx context.Context, cid string) error

	// Get retrieves content by its identifier.
	Get(ctx context.Context, cid string) ([]byte, error)

	// Status reports node health. An unreachable node is reported through the
	// returned NodeStatus, not through the error, so health checks degrade
	// instead of failing.
	Status(ctx context.Context) (*NodeStatus, error)
}
