// cmd/client is the CLI entry-point built with Cobra (run as kvring-cli).
//
// Usage:
//
//	kvring-cli put mybucket mykey "hello world"  --server http://localhost:8080
//	kvring-cli get mybucket mykey                --server http://localhost:8080
//	kvring-cli delete mybucket mykey             --server http://localhost:8080
//	kvring-cli cluster nodes                     --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kvring/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvring-cli",
		Short: "CLI client for kvring",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "kvring node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), clusterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	var putContext string
	var writeAcks int
	var noReply bool

	cmd := &cobra.Command{
		Use:   "put <bucket> <key> <value>",
		Short: "Store a value under bucket/key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Put(context.Background(), args[0], args[1], args[2], client.PutOptions{
				Context:   putContext,
				WriteAcks: writeAcks,
				NoReply:   noReply,
			})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&putContext, "context", "", "opaque context from a prior get, for a causal overwrite")
	cmd.Flags().IntVar(&writeAcks, "write-acks", 0, "W for this call (0 = server default)")
	cmd.Flags().BoolVar(&noReply, "no-reply", false, "fire-and-forget: don't wait for any replica ack")
	return cmd
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	var readAcks int
	var noReadRepair bool

	cmd := &cobra.Command{
		Use:   "get <bucket> <key>",
		Short: "Retrieve the value(s) for bucket/key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), args[0], args[1], client.GetOptions{
				ReadAcks:     readAcks,
				NoReadRepair: noReadRepair,
			})
			if err == client.ErrNotFound {
				fmt.Printf("%s/%s not found\n", args[0], args[1])
				return nil
			}
			if err != nil {
				return err
			}
			if len(resp.Values) > 1 {
				fmt.Fprintf(os.Stderr, "warning: %d unresolved sibling values; pass --context back on your next put\n", len(resp.Values))
			}
			prettyPrint(resp)
			return nil
		},
	}

	cmd.Flags().IntVar(&readAcks, "read-acks", 0, "R for this call (0 = server default)")
	cmd.Flags().BoolVar(&noReadRepair, "no-read-repair", false, "skip read-repair on stale replicas found during this get")
	return cmd
}

// ─── delete ───────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bucket> <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.Delete(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

// ─── cluster ──────────────────────────────────────────────────────────────────

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List all cluster nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/cluster/nodes")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	joinCmd := &cobra.Command{
		Use:   "join <nodeID> <address>",
		Short: "Join a node to the cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.JoinCluster(context.Background(), args[0], args[1])
		},
	}

	leaveCmd := &cobra.Command{
		Use:   "leave <nodeID>",
		Short: "Remove a node from the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.LeaveCluster(context.Background(), args[0])
		},
	}

	cmd.AddCommand(joinCmd, leaveCmd)
	return cmd
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
