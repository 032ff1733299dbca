// Command shardctl is a small CLI for querying and operating a running
// shardd process over its admin HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/torua-cache/internal/adminapi"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "shardctl",
		Short: "Query and operate a running shardd process",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8090", "shard admin server base URL")

	root.AddCommand(&cobra.Command{
		Use:   "healthz",
		Short: "Check whether the shard's admin server is healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adminapi.NewClient(addr).Healthz(ctx); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Print the shard's current info snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			info, err := adminapi.NewClient(addr).Info(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("shard_id=%s resident_slots=%d\n", info.ShardID, info.ResidentSlots)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Force an out-of-band persistence sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := adminapi.NewClient(addr).Flush(ctx); err != nil {
				return err
			}
			fmt.Println("flushed")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
