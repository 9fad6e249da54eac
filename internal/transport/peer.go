package transport

import (
	"context"
	"fmt"
	"net/http"

	"kvring/internal/bkey"
)

// RemotePeer implements antientropy.Peer against a vnode hosted on
// another node's /internal/vnode/:partition/tree/* routes, mirroring
// internal/antientropy.LocalPeer's in-process accessor shape over HTTP.
type RemotePeer struct {
	Addr      string
	Partition uint32
	Client    *http.Client
}

func (p RemotePeer) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p RemotePeer) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Addr+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: %s: %s", path, resp.Status)
	}
	return decodeJSON(resp.Body, out)
}

func (p RemotePeer) TreeBuilt() bool {
	var resp builtResponse
	if err := p.get(context.Background(), p.path("/tree/built"), &resp); err != nil {
		return false
	}
	return resp.Built
}

func (p RemotePeer) RootHash() uint64 {
	var resp rootResponse
	_ = p.get(context.Background(), p.path("/tree/root"), &resp)
	return resp.Hash
}

func (p RemotePeer) InternalHashes() []uint64 {
	var resp hashesResponse
	_ = p.get(context.Background(), p.path("/tree/internal"), &resp)
	return resp.Hashes
}

func (p RemotePeer) LeafHashesUnder(idx int) []uint64 {
	var resp hashesResponse
	_ = p.get(context.Background(), p.path(fmt.Sprintf("/tree/leaf/%d", idx)), &resp)
	return resp.Hashes
}

func (p RemotePeer) CandidateKeys(idx int) []bkey.BKey {
	var resp keysResponse
	if err := p.get(context.Background(), p.path(fmt.Sprintf("/tree/keys/%d", idx)), &resp); err != nil {
		return nil
	}
	out := make([]bkey.BKey, len(resp.Keys))
	for i, k := range resp.Keys {
		out[i] = bkey.BKey{Bucket: k.Bucket, Key: k.Key}
	}
	return out
}

func (p RemotePeer) path(suffix string) string {
	return fmt.Sprintf("/internal/vnode/%d%s", p.Partition, suffix)
}
