// cmd/foodmeshctl is the CLI entry-point built with Cobra for querying
// a coordinator node's diagnostics HTTP surface.
//
// Usage:
//
//	foodmeshctl healthz              --server http://localhost:9080
//	foodmeshctl cluster nodes        --server http://localhost:9080
//	foodmeshctl cluster leader       --server http://localhost:9080
//	foodmeshctl cluster term         --server http://localhost:9080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"foodmesh/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "foodmeshctl",
		Short: "CLI client for a food-ordering coordinator node's diagnostics surface",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:9080", "Coordinator node diagnostics address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(healthzCmd(), clusterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── healthz ──────────────────────────────────────────────────────────────────

func healthzCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthz",
		Short: "Check whether a node is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Healthz(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── cluster ──────────────────────────────────────────────────────────────────

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Ring introspection commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List every node in the ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.ClusterNodes(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "leader",
		Short: "Show who this node believes is the current leader",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.ClusterLeader(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "term",
		Short: "Show this node's current election term",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.ClusterTerm(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	})

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
