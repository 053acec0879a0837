// cmd/kvcli is the CLI entry-point built with Cobra.
//
// Usage:
//
//	kvcli table create users --pk user_id --sk profile_kind  --server http://localhost:8000
//	kvcli table list                                         --server http://localhost:8000
//	kvcli put users u1 profile '{"name":"ada"}'               --server http://localhost:8000
//	kvcli get users u1 profile                                --server http://localhost:8000
//	kvcli delete users u1 profile                             --server http://localhost:8000
//	kvcli exists users u1 profile                             --server http://localhost:8000
//	kvcli replicas                                            --server http://localhost:8000
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shardkv/internal/sdk"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for the sharded, replicated KV store's coordinator",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8000", "Coordinator address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(tableCmd(), putCmd(), getCmd(), deleteCmd(), existsCmd(), replicasCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── table ──────────────────────────────────────────────────────────────────

func tableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Table management commands",
	}

	var pk, sk string
	create := &cobra.Command{
		Use:   "create <table_name>",
		Short: "Register a table's key schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(serverAddr, timeout)
			t, err := c.RegisterTable(context.Background(), sdk.TableDef{
				TableName: args[0], PartitionKey: pk, SortKey: sk,
			})
			if err != nil {
				return err
			}
			prettyPrint(t)
			return nil
		},
	}
	create.Flags().StringVar(&pk, "pk", "pk", "Partition key attribute name")
	create.Flags().StringVar(&sk, "sk", "sk", "Sort key attribute name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every registered table",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(serverAddr, timeout)
			tables, err := c.ListTables(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(tables)
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <table> <pk> <sk> <json-value>",
		Short: "Write a record",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[3]), &value); err != nil {
				return fmt.Errorf("value must be valid JSON: %w", err)
			}
			c := sdk.New(serverAddr, timeout)
			resp, err := c.Put(context.Background(), args[0], args[1], args[2], value)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <pk> <sk>",
		Short: "Read a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), args[0], args[1], args[2])
			if err == sdk.ErrNotFound {
				fmt.Printf("%s/%s/%s not found\n", args[0], args[1], args[2])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── delete ───────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <pk> <sk>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(serverAddr, timeout)
			resp, err := c.Delete(context.Background(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── exists ───────────────────────────────────────────────────────────────────

func existsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <table> <pk> <sk>",
		Short: "Check whether a record exists",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(serverAddr, timeout)
			exists, err := c.Exists(context.Background(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println(exists)
			return nil
		},
	}
}

// ─── replicas ─────────────────────────────────────────────────────────────────

func replicasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replicas",
		Short: "List every replica the coordinator knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(serverAddr, timeout)
			replicas, err := c.ListReplicas(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(replicas)
			return nil
		},
	}
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
