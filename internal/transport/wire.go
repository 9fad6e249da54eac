// Package transport implements coordinator.Transport and antientropy.Peer
// over HTTP between kvring nodes, so a coordinator or anti-entropy
// scheduler can address a replica without caring whether it happens to be
// hosted on this process. Grounded on the prior implementation's internal/client (raw
// outbound HTTP + JSON) and internal/api (inbound gin routing), adapted
// from the original single-node vector-clock API to the vnode-level
// read/write/repair/tree wire protocol the design's replication model needs.
package transport

import (
	"encoding/json"
	"io"
)

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}

// readRequest/readResponse etc. are the JSON bodies exchanged with a
// peer's /internal/vnode/:partition/* routes (internal/api/handlers.go
// on the receiving side). []byte fields round-trip as base64 under
// encoding/json, so clock.Encode/clock.EncodeContext's binary output
// travels unmodified.
type readRequest struct {
	Bucket []byte `json:"bucket"`
	Key    []byte `json:"key"`
}

type readResponse struct {
	Clock    []byte `json:"clock,omitempty"`
	NotFound bool   `json:"not_found,omitempty"`
}

type writeRequest struct {
	Bucket    []byte `json:"bucket"`
	Key       []byte `json:"key"`
	Context   []byte `json:"context"`
	Value     []byte `json:"value"`
	Tombstone bool   `json:"tombstone"`
}

type writeResponse struct {
	Context []byte `json:"context"`
}

type repairRequest struct {
	Bucket []byte `json:"bucket"`
	Key    []byte `json:"key"`
	Clock  []byte `json:"clock"`
}

type builtResponse struct {
	Built bool `json:"built"`
}

type hashesResponse struct {
	Hashes []uint64 `json:"hashes"`
}

type rootResponse struct {
	Hash uint64 `json:"hash"`
}

type keyWire struct {
	Bucket []byte `json:"bucket"`
	Key    []byte `json:"key"`
}

type keysResponse struct {
	Keys []keyWire `json:"keys"`
}
