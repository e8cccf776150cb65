// Command raftkv runs a single node of a raftkv cluster: it loads the
// cluster's membership file, starts the Raft core and its gRPC peer
// transport, and serves the text-line client protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ardalan-k/raftkv/client"
	"github.com/ardalan-k/raftkv/config"
	"github.com/ardalan-k/raftkv/internal/logger"
	"github.com/ardalan-k/raftkv/internal/transport"
	"github.com/ardalan-k/raftkv/kvstore"
	"github.com/ardalan-k/raftkv/raft"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raftkv",
		Short: "Run a single node of a raftkv cluster",
		RunE:  runNode,
	}

	flags := cmd.Flags()
	flags.String("id", "", "this node's ID (must match an entry in --cluster)")
	flags.String("cluster", "", "path to the cluster membership file")
	flags.String("client-address", "", "address to serve the client protocol on")
	flags.String("data-dir", "", "directory for this node's persistent state")
	flags.Bool("restarting", false, "recover existing persistent state instead of starting fresh")
	flags.Duration("election-timeout", 0, "base election timeout (0 uses the library default)")
	flags.Duration("heartbeat-interval", 0, "leader heartbeat interval (0 uses the library default)")
	flags.Duration("lease-duration", 0, "leader lease duration (0 uses the library default)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("no-dump", false, "disable the free-form audit trail file under --data-dir")

	for _, name := range []string{"id", "cluster", "client-address", "data-dir", "restarting",
		"election-timeout", "heartbeat-interval", "lease-duration", "log-level", "no-dump"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("RAFTKV")
	viper.AutomaticEnv()

	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("cluster")
	_ = cmd.MarkFlagRequired("client-address")
	_ = cmd.MarkFlagRequired("data-dir")

	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	id := viper.GetString("id")
	clusterPath := viper.GetString("cluster")
	clientAddress := viper.GetString("client-address")
	dataDir := viper.GetString("data-dir")
	restarting := viper.GetBool("restarting")

	cluster, err := config.LoadCluster(clusterPath)
	if err != nil {
		return err
	}
	address, ok := cluster[id]
	if !ok {
		return fmt.Errorf("raftkv: node id %q not present in cluster file %s", id, clusterPath)
	}

	if !restarting {
		if err := os.RemoveAll(dataDir); err != nil {
			return fmt.Errorf("raftkv: failed to clear data directory for fresh start: %w", err)
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("raftkv: failed to create data directory: %w", err)
	}

	log := logger.New(
		logger.WithLevel(viper.GetString("log-level")),
		logger.WithField("node", id),
	)

	opts := []raft.Option{
		raft.WithTransport(transport.New(address)),
		raft.WithLogger(log),
	}
	if d := viper.GetDuration("election-timeout"); d > 0 {
		opts = append(opts, raft.WithElectionTimeout(d))
	}
	if d := viper.GetDuration("heartbeat-interval"); d > 0 {
		opts = append(opts, raft.WithHeartbeatInterval(d))
	}
	if d := viper.GetDuration("lease-duration"); d > 0 {
		opts = append(opts, raft.WithLeaseDuration(d))
	}
	if viper.GetBool("no-dump") {
		opts = append(opts, raft.WithoutDump())
	}

	store := kvstore.New()
	node, err := raft.NewRaft(id, cluster, store, dataDir, opts...)
	if err != nil {
		return fmt.Errorf("raftkv: failed to construct node: %w", err)
	}
	if err := node.Start(); err != nil {
		return fmt.Errorf("raftkv: failed to start node: %w", err)
	}
	defer node.Stop()

	log.Infof("serving client protocol: address = %s", clientAddress)
	clientServer := client.New(node, log)
	return clientServer.Start(clientAddress)
}
