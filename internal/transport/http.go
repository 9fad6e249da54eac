package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kvring/internal/bkey"
	"kvring/internal/clock"
	"kvring/internal/coordinator"
	"kvring/internal/vnode"
)

// Locator resolves a node ID to its base HTTP address, e.g.
// "http://host:port". Satisfied by cluster.Membership.GetNode.
type Locator func(nodeID string) (addr string, ok bool)

// Registry resolves a partition to the locally-hosted vnode serving it,
// or reports this process does not own that partition.
type Registry func(partition uint32) (*vnode.Vnode, bool)

// HTTPTransport implements coordinator.Transport: a target whose Node is
// this process is served from the in-memory vnode directly; any other
// target is reached over HTTP against the peer's internal API.
type HTTPTransport struct {
	SelfID string
	Locate Locator
	Local  Registry
	Client *http.Client
}

// New builds an HTTPTransport with a 20s client timeout per call. A call
// also ends early if the caller's context carries an earlier deadline;
// the coordinator FSMs enforce their own timeouts with timers and do not
// put a deadline on the context they pass in.
func New(selfID string, locate Locator, local Registry) *HTTPTransport {
	return &HTTPTransport{
		SelfID: selfID,
		Locate: locate,
		Local:  local,
		Client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (t *HTTPTransport) Read(ctx context.Context, target coordinator.ReplicaTarget, bk bkey.BKey) (clock.Clock, error) {
	if target.Node == t.SelfID {
		v, ok := t.Local(target.Partition)
		if !ok {
			return clock.Clock{}, fmt.Errorf("transport: partition %d not hosted locally", target.Partition)
		}
		return v.Read(bk)
	}

	addr, ok := t.Locate(target.Node)
	if !ok {
		return clock.Clock{}, fmt.Errorf("transport: unknown node %q", target.Node)
	}

	var resp readResponse
	path := fmt.Sprintf("/internal/vnode/%d/read", target.Partition)
	if err := t.call(ctx, addr, path, readRequest{Bucket: bk.Bucket, Key: bk.Key}, &resp); err != nil {
		return clock.Clock{}, err
	}
	if resp.NotFound {
		return clock.Clock{}, vnode.ErrNotFound
	}
	return clock.Decode(resp.Clock)
}

func (t *HTTPTransport) Write(ctx context.Context, target coordinator.ReplicaTarget, bk bkey.BKey, cctx clock.Context, value []byte, tombstone bool) (clock.Context, error) {
	if target.Node == t.SelfID {
		v, ok := t.Local(target.Partition)
		if !ok {
			return nil, fmt.Errorf("transport: partition %d not hosted locally", target.Partition)
		}
		return v.Write(bk, cctx, value, tombstone)
	}

	addr, ok := t.Locate(target.Node)
	if !ok {
		return nil, fmt.Errorf("transport: unknown node %q", target.Node)
	}

	req := writeRequest{
		Bucket:    bk.Bucket,
		Key:       bk.Key,
		Context:   clock.EncodeContext(cctx),
		Value:     value,
		Tombstone: tombstone,
	}
	var resp writeResponse
	path := fmt.Sprintf("/internal/vnode/%d/write", target.Partition)
	if err := t.call(ctx, addr, path, req, &resp); err != nil {
		return nil, err
	}
	return clock.DecodeContext(resp.Context)
}

func (t *HTTPTransport) Repair(ctx context.Context, target coordinator.ReplicaTarget, bk bkey.BKey, final clock.Clock) error {
	if target.Node == t.SelfID {
		v, ok := t.Local(target.Partition)
		if !ok {
			return fmt.Errorf("transport: partition %d not hosted locally", target.Partition)
		}
		return v.Repair(bk, final)
	}

	addr, ok := t.Locate(target.Node)
	if !ok {
		return fmt.Errorf("transport: unknown node %q", target.Node)
	}

	req := repairRequest{Bucket: bk.Bucket, Key: bk.Key, Clock: clock.Encode(final)}
	path := fmt.Sprintf("/internal/vnode/%d/repair", target.Partition)
	return t.call(ctx, addr, path, req, nil)
}

func (t *HTTPTransport) call(ctx context.Context, addr, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transport: %s: %s: %s", path, resp.Status, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
