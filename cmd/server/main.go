// cmd/server is the main entrypoint for a kvring node (run as kvringd in
// the examples below).
//
// Configuration is entirely via flags so a single binary can serve any
// role in the cluster.
//
// Example — single node:
//
//	./kvringd --id node1 --addr :8080 --data-dir /var/kvring/node1
//
// Example — 3-node cluster:
//
//	./kvringd --id node1 --addr :8080 --data-dir /tmp/n1 \
//	          --peers node2=localhost:8081,node3=localhost:8082
//	./kvringd --id node2 --addr :8081 --data-dir /tmp/n2 \
//	          --peers node1=localhost:8080,node3=localhost:8082
//	./kvringd --id node3 --addr :8082 --data-dir /tmp/n3 \
//	          --peers node1=localhost:8080,node2=localhost:8081
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"kvring/internal/antientropy"
	"kvring/internal/api"
	"kvring/internal/bkey"
	"kvring/internal/cluster"
	"kvring/internal/config"
	"kvring/internal/coordinator"
	"kvring/internal/logging"
	"kvring/internal/ring"
	"kvring/internal/storage"
	"kvring/internal/transport"
	"kvring/internal/vnode"
)

func main() {
	cfg := config.Default()

	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/kvring", "Directory for per-partition storage")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer nodes: id=host:port")
	partitionExponent := flag.Int("partition-exponent", cfg.PartitionExponent, "P: the ring has 2^P partitions")
	replicationFactor := flag.Int("n", cfg.ReplicationFactor, "Replication factor (N)")
	debug := flag.Bool("debug", false, "Enable development (console) logging")
	flag.Parse()

	cfg.NodeID = *nodeID
	cfg.Addr = *addr
	cfg.DataDir = *dataDir
	cfg.PartitionExponent = *partitionExponent
	cfg.ReplicationFactor = *replicationFactor
	cfg.Peers = parsePeers(*peersFlag)

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func parsePeers(flagVal string) map[string]string {
	peers := make(map[string]string)
	if flagVal == "" {
		return peers
	}
	for _, entry := range strings.Split(flagVal, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		peers[parts[0]] = parts[1]
	}
	return peers
}

func run(cfg config.Config, log *zap.Logger) error {
	nodes := []cluster.Node{{ID: cfg.NodeID, Address: cfg.Addr}}
	for id, address := range cfg.Peers {
		nodes = append(nodes, cluster.Node{ID: id, Address: address})
	}
	membership := cluster.NewMembership(nodes, cfg.PartitionExponent)

	stats := vnode.NewStats(prometheus.DefaultRegisterer)

	store := newVnodeStore()
	if err := store.openOwned(cfg, membership, stats); err != nil {
		return fmt.Errorf("open local vnodes: %w", err)
	}
	defer store.closeAll(log)

	locate := func(id string) (string, bool) {
		n, ok := membership.GetNode(id)
		if !ok {
			return "", false
		}
		return "http://" + n.Address, true
	}
	httpTransport := transport.New(cfg.NodeID, locate, store.lookup)

	schedulers := store.startAntiEntropy(cfg, membership, httpTransport, log)
	defer func() {
		for _, s := range schedulers {
			s.Stop()
		}
	}()

	handler := api.NewHandler(cfg, membership, httpTransport, store.lookup, logging.Component(log, "api"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	apiLog := logging.Component(log, "http")
	router.Use(api.Logger(apiLog), api.Recovery(apiLog))
	handler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":       cfg.NodeID,
			"status":     "ok",
			"partitions": store.count(),
		})
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("node", cfg.NodeID), zap.String("addr", cfg.Addr), zap.Int("partitions", store.count()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", zap.String("node", cfg.NodeID))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// vnodeStore owns every vnode this process hosts, keyed by partition.
type vnodeStore struct {
	mu     sync.RWMutex
	byPart map[uint32]*vnode.Vnode
}

func newVnodeStore() *vnodeStore {
	return &vnodeStore{byPart: make(map[uint32]*vnode.Vnode)}
}

func (s *vnodeStore) openOwned(cfg config.Config, membership *cluster.Membership, stats *vnode.Stats) error {
	snap := membership.Ring()

	for p := 0; p < snap.NumPartitions(); p++ {
		partition := uint32(p)
		if snap.Owner(ring.Partition(partition)) != cfg.NodeID {
			continue
		}

		dataDir := fmt.Sprintf("%s/%s/partition-%d", cfg.DataDir, cfg.NodeID, partition)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("partition %d: mkdir: %w", partition, err)
		}

		engine, err := storage.Open(dataDir+"/data.db", storage.DefaultOpenOptions())
		if err != nil {
			return fmt.Errorf("partition %d: open storage: %w", partition, err)
		}

		v, err := vnode.Open(vnode.Config{
			DataDir:         dataDir,
			Partition:       partition,
			MerkleBranching: cfg.MerkleChildren,
		}, engine, stats)
		if err != nil {
			return fmt.Errorf("partition %d: open vnode: %w", partition, err)
		}

		s.mu.Lock()
		s.byPart[partition] = v
		s.mu.Unlock()
	}
	return nil
}

func (s *vnodeStore) lookup(partition uint32) (*vnode.Vnode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byPart[partition]
	return v, ok
}

func (s *vnodeStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPart)
}

func (s *vnodeStore) closeAll(log *zap.Logger) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p, v := range s.byPart {
		if err := v.Close(); err != nil {
			log.Error("vnode close", zap.Uint32("partition", p), zap.Error(err))
		}
	}
}

// startAntiEntropy launches one Scheduler per locally-hosted vnode,
// exchanging Merkle trees against its ring peers (the design Peers,
// §4.7). Repair is dispatched through coordinator.Get's two-vnode
// repair_mode, which already syncs and writes back through Transport
// regardless of whether either side is local or remote.
func (s *vnodeStore) startAntiEntropy(cfg config.Config, membership *cluster.Membership, tr coordinator.Transport, log *zap.Logger) []*antientropy.Scheduler {
	aaLog := logging.Component(log, "antientropy")

	s.mu.RLock()
	partitions := make([]uint32, 0, len(s.byPart))
	for p := range s.byPart {
		partitions = append(partitions, p)
	}
	s.mu.RUnlock()

	var schedulers []*antientropy.Scheduler
	for _, partition := range partitions {
		partition := partition
		localV, _ := s.lookup(partition)
		bucket := antientropy.NewTokenBucket(cfg.DefaultHashtreeTokens)

		var rrIdx int
		pickPeer := func() (string, antientropy.Peer, bool) {
			snap := membership.Ring()
			peers := snap.Peers(ring.Partition(partition), cfg.ReplicationFactor)
			if len(peers) == 0 {
				return "", nil, false
			}
			candidate := peers[rrIdx%len(peers)]
			rrIdx++

			owner := snap.Owner(candidate)
			id := fmt.Sprintf("%d-%d", partition, candidate)

			if owner == cfg.NodeID {
				v, ok := s.lookup(uint32(candidate))
				if !ok {
					return "", nil, false
				}
				return id, antientropy.LocalPeer{V: v}, true
			}
			n, ok := membership.GetNode(owner)
			if !ok {
				return "", nil, false
			}
			return id, transport.RemotePeer{Addr: "http://" + n.Address, Partition: uint32(candidate)}, true
		}

		runExchange := func(ctx context.Context, peer antientropy.Peer) (int, error) {
			otherPartition, ok := peerPartition(peer)
			repair := func(ctx context.Context, bk bkey.BKey) error {
				if !ok {
					return nil
				}
				snap := membership.Ring()
				result := coordinator.Get(ctx, tr, bk, nil, coordinator.GetOptions{
					DoReadRepair: true,
					Timeout:      cfg.DefaultTimeout,
					RepairMode: &coordinator.RepairMode{
						A: coordinator.ReplicaTarget{Partition: partition, Node: cfg.NodeID},
						B: coordinator.ReplicaTarget{Partition: otherPartition, Node: snap.Owner(ring.Partition(otherPartition))},
					},
				})
				return result.Err
			}
			n, err := antientropy.Exchange(ctx, antientropy.LocalPeer{V: localV}, peer, repair)
			if err != nil {
				aaLog.Debug("exchange failed", zap.Uint32("partition", partition), zap.Error(err))
			} else if n > 0 {
				aaLog.Info("exchange repaired keys", zap.Uint32("partition", partition), zap.Int("count", n))
			}
			return n, err
		}

		sched := antientropy.NewScheduler(cfg.DefaultSyncInterval, bucket, pickPeer, runExchange)
		sched.Start()
		schedulers = append(schedulers, sched)
	}
	return schedulers
}

// peerPartition recovers the partition index a Peer was built for, so
// runExchange can name it in a repair_mode get without pickPeer having to
// thread extra state through the antientropy.PickPeer signature.
func peerPartition(p antientropy.Peer) (uint32, bool) {
	switch v := p.(type) {
	case antientropy.LocalPeer:
		return v.V.ID().Partition, true
	case transport.RemotePeer:
		return v.Partition, true
	default:
		return 0, false
	}
}
