// Package api wires up the Gin HTTP router with all handler functions:
// the client-facing /kv API, cluster membership management, and the
// internal vnode/tree routes peer coordinators and anti-entropy use to
// reach a replica hosted on this process.
package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kvring/internal/bkey"
	"kvring/internal/clock"
	"kvring/internal/cluster"
	"kvring/internal/config"
	"kvring/internal/coordinator"
	"kvring/internal/vnode"
)

// VnodeLookup resolves a partition to the vnode hosted locally for it.
type VnodeLookup func(partition uint32) (*vnode.Vnode, bool)

// Handler holds all dependencies injected from cmd/server.
type Handler struct {
	cfg        config.Config
	membership *cluster.Membership
	transport  coordinator.Transport
	vnodes     VnodeLookup
	log        *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg config.Config, m *cluster.Membership, transport coordinator.Transport, vnodes VnodeLookup, log *zap.Logger) *Handler {
	return &Handler{cfg: cfg, membership: m, transport: transport, vnodes: vnodes, log: log}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	kv := r.Group("/kv")
	kv.GET("/:bucket/:key", h.Get)
	kv.PUT("/:bucket/:key", h.Put)
	kv.DELETE("/:bucket/:key", h.Delete)

	clusterGroup := r.Group("/cluster")
	clusterGroup.POST("/join", h.Join)
	clusterGroup.POST("/leave", h.Leave)
	clusterGroup.GET("/nodes", h.ListNodes)

	internal := r.Group("/internal/vnode/:partition")
	internal.POST("/read", h.InternalRead)
	internal.POST("/write", h.InternalWrite)
	internal.POST("/repair", h.InternalRepair)
	internal.GET("/tree/built", h.InternalTreeBuilt)
	internal.GET("/tree/root", h.InternalTreeRoot)
	internal.GET("/tree/internal", h.InternalTreeInternal)
	internal.GET("/tree/leaf/:idx", h.InternalTreeLeaf)
	internal.GET("/tree/keys/:idx", h.InternalTreeKeys)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// ─── Public KV handlers ───────────────────────────────────────────────────────

type putRequest struct {
	Value     string `json:"value" binding:"required"`
	Context   string `json:"context"` // base64 of clock.EncodeContext, empty for a fresh write
	WriteAcks int    `json:"write_acks"`
	NoReply   bool   `json:"no_reply"`
}

// Put handles PUT /kv/:bucket/:key.
func (h *Handler) Put(c *gin.Context) {
	bk := bkey.New(c.Param("bucket"), c.Param("key"))

	var body putRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cctx, err := decodeContext(body.Context)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targets := h.targetsFor(bk)
	result := coordinator.Put(c.Request.Context(), h.transport, bk, cctx, []byte(body.Value), targets, coordinator.PutOptions{
		Operation: coordinator.OpWrite,
		MinAcks:   ackCount(body.WriteAcks, h.cfg.WriteQuorum()),
		Timeout:   h.cfg.DefaultTimeout,
		NoReply:   body.NoReply,
	})
	if result.Err != nil {
		c.JSON(errStatus(result.Err), gin.H{"error": result.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": bk.Bucket, "key": bk.Key})
}

// Get handles GET /kv/:bucket/:key.
func (h *Handler) Get(c *gin.Context) {
	bk := bkey.New(c.Param("bucket"), c.Param("key"))

	readAcks, _ := strconv.Atoi(c.Query("read_acks"))
	doRepair := c.Query("read_repair") != "false"

	targets := h.targetsFor(bk)
	result := coordinator.Get(c.Request.Context(), h.transport, bk, targets, coordinator.GetOptions{
		MinAcks:      ackCount(readAcks, h.cfg.ReadQuorum()),
		DoReadRepair: doRepair,
		ReturnValue:  true,
		Timeout:      h.cfg.DefaultTimeout,
	})
	if result.Err != nil {
		c.JSON(errStatus(result.Err), gin.H{"error": result.Err.Error()})
		return
	}
	if !result.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}

	values := make([]string, len(result.Values))
	for i, v := range result.Values {
		values[i] = string(v)
	}
	c.JSON(http.StatusOK, gin.H{
		"bucket":  bk.Bucket,
		"key":     bk.Key,
		"values":  values,
		"context": base64.StdEncoding.EncodeToString(clock.EncodeContext(result.Ctx)),
	})
}

// Delete handles DELETE /kv/:bucket/:key.
func (h *Handler) Delete(c *gin.Context) {
	bk := bkey.New(c.Param("bucket"), c.Param("key"))

	targets := h.targetsFor(bk)
	result := coordinator.Put(c.Request.Context(), h.transport, bk, nil, nil, targets, coordinator.PutOptions{
		Operation: coordinator.OpDelete,
		MinAcks:   h.cfg.WriteQuorum(),
		Timeout:   h.cfg.DefaultTimeout,
	})
	if result.Err != nil {
		c.JSON(errStatus(result.Err), gin.H{"error": result.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) targetsFor(bk bkey.BKey) []coordinator.ReplicaTarget {
	replicas := h.membership.Ring().Replicas(bk, h.cfg.ReplicationFactor)
	targets := make([]coordinator.ReplicaTarget, len(replicas))
	for i, r := range replicas {
		targets[i] = coordinator.ReplicaTarget{Partition: uint32(r.Partition), Node: r.Node}
	}
	return targets
}

func ackCount(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func decodeContext(encoded string) (clock.Context, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return clock.DecodeContext(raw)
}

func errStatus(err error) int {
	switch err {
	case coordinator.ErrTimeout:
		return http.StatusGatewayTimeout
	case coordinator.ErrNoQuorum:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ─── Cluster management handlers ─────────────────────────────────────────────

// Join handles POST /cluster/join. Body: {"id": "...", "address": "..."}
func (h *Handler) Join(c *gin.Context) {
	var node cluster.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.membership.Join(node); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": node.ID})
}

// Leave handles POST /cluster/leave. Body: {"id": "..."}
func (h *Handler) Leave(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.membership.Leave(body.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": body.ID})
}

// ListNodes handles GET /cluster/nodes.
func (h *Handler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.membership.All()})
}

// ─── Internal (peer-to-peer) handlers ────────────────────────────────────────

func (h *Handler) partitionVnode(c *gin.Context) (*vnode.Vnode, bool) {
	p, err := strconv.ParseUint(c.Param("partition"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid partition"})
		return nil, false
	}
	v, ok := h.vnodes(uint32(p))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "partition not hosted here"})
		return nil, false
	}
	return v, true
}

type internalReadRequest struct {
	Bucket []byte `json:"bucket"`
	Key    []byte `json:"key"`
}

type internalReadResponse struct {
	Clock    []byte `json:"clock,omitempty"`
	NotFound bool   `json:"not_found,omitempty"`
}

// InternalRead handles POST /internal/vnode/:partition/read.
func (h *Handler) InternalRead(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	var req internalReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cl, err := v.Read(bkey.BKey{Bucket: req.Bucket, Key: req.Key})
	if err == vnode.ErrNotFound {
		c.JSON(http.StatusOK, internalReadResponse{NotFound: true})
		return
	}
	if err != nil {
		c.JSON(vnodeErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, internalReadResponse{Clock: clock.Encode(cl)})
}

type internalWriteRequest struct {
	Bucket    []byte `json:"bucket"`
	Key       []byte `json:"key"`
	Context   []byte `json:"context"`
	Value     []byte `json:"value"`
	Tombstone bool   `json:"tombstone"`
}

type internalWriteResponse struct {
	Context []byte `json:"context"`
}

// InternalWrite handles POST /internal/vnode/:partition/write.
func (h *Handler) InternalWrite(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	var req internalWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cctx, err := clock.DecodeContext(req.Context)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newCtx, err := v.Write(bkey.BKey{Bucket: req.Bucket, Key: req.Key}, cctx, req.Value, req.Tombstone)
	if err != nil {
		c.JSON(vnodeErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, internalWriteResponse{Context: clock.EncodeContext(newCtx)})
}

type internalRepairRequest struct {
	Bucket []byte `json:"bucket"`
	Key    []byte `json:"key"`
	Clock  []byte `json:"clock"`
}

// InternalRepair handles POST /internal/vnode/:partition/repair.
func (h *Handler) InternalRepair(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	var req internalRepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	final, err := clock.Decode(req.Clock)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := v.Repair(bkey.BKey{Bucket: req.Bucket, Key: req.Key}, final); err != nil {
		c.JSON(vnodeErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// InternalTreeBuilt handles GET /internal/vnode/:partition/tree/built.
func (h *Handler) InternalTreeBuilt(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"built": v.TreeBuilt()})
}

// InternalTreeRoot handles GET /internal/vnode/:partition/tree/root.
func (h *Handler) InternalTreeRoot(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": v.RootHash()})
}

// InternalTreeInternal handles GET /internal/vnode/:partition/tree/internal.
func (h *Handler) InternalTreeInternal(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"hashes": v.InternalHashes()})
}

// InternalTreeLeaf handles GET /internal/vnode/:partition/tree/leaf/:idx.
func (h *Handler) InternalTreeLeaf(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hashes": v.LeafHashesUnder(idx)})
}

// InternalTreeKeys handles GET /internal/vnode/:partition/tree/keys/:idx.
func (h *Handler) InternalTreeKeys(c *gin.Context) {
	v, ok := h.partitionVnode(c)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	keys := v.CandidateKeys(idx)
	out := make([]gin.H, len(keys))
	for i, k := range keys {
		out[i] = gin.H{"bucket": k.Bucket, "key": k.Key}
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

func vnodeErrStatus(err error) int {
	switch err {
	case vnode.ErrOverload:
		return http.StatusServiceUnavailable
	case vnode.ErrNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
