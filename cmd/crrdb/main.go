// Package main provides the crrdb CLI entry point.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/latticedb/crrdb/pkg/changeset"
	"github.com/latticedb/crrdb/pkg/config"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peer"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crrdb",
		Short: "crrdb - coordination-free replicated relational store",
		Long: `crrdb replicates relational data across peers with Strong Eventual
Consistency: a per-column CRR table merged by a deterministic tie-break
policy, backed by a content-addressed DAG of causal writes, with
coordination-free retention-depth garbage collection.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crrdb v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new peer data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "data directory")
	rootCmd.AddCommand(initCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show this peer's identity and DAG frontier",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("data-dir", "./data", "data directory")
	rootCmd.AddCommand(statusCmd)

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Run one coordination-free GC pass",
		RunE:  runGC,
	}
	gcCmd.Flags().String("data-dir", "./data", "data directory")
	gcCmd.Flags().Int("retention-depth", -1, "retention depth R (defaults to config value)")
	rootCmd.AddCommand(gcCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Export and apply changesets for the sync protocol",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write a changeset for a peer's frontier to stdout",
		RunE:  runSyncExport,
	}
	exportCmd.Flags().String("data-dir", "./data", "data directory")
	exportCmd.Flags().StringSlice("since-head", nil, "hex-encoded node id the receiving peer already has (repeatable)")
	syncCmd.AddCommand(exportCmd)

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Read a changeset from stdin and merge it",
		RunE:  runSyncApply,
	}
	applyCmd.Flags().String("data-dir", "./data", "data directory")
	syncCmd.AddCommand(applyCmd)

	rootCmd.AddCommand(syncCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openPeer(cmd *cobra.Command) (*peer.Peer, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := config.LoadFromEnv()
	cfg.Database.DataDir = dataDir
	return peer.Open(cfg)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("Initializing peer data directory %s\n", dataDir)
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "crr.yaml")
	configContent := `# crrdb peer configuration
data_dir: ./data
retention_depth: 100
default_policy: lexicographic_min
sync_timeout: 30s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	p, err := openPeer(cmd)
	if err != nil {
		return fmt.Errorf("opening peer: %w", err)
	}
	defer p.Close()

	fmt.Println("Peer initialized")
	fmt.Printf("  Config:   %s\n", configPath)
	fmt.Printf("  Identity: %s\n", p.Author())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openPeer(cmd)
	if err != nil {
		return fmt.Errorf("opening peer: %w", err)
	}
	defer p.Close()

	heads, err := p.Heads()
	if err != nil {
		return fmt.Errorf("reading heads: %w", err)
	}

	fmt.Printf("Identity: %s\n", p.Author())
	fmt.Printf("Heads (%d):\n", len(heads))
	for _, h := range heads {
		fmt.Printf("  %x\n", h)
	}
	return nil
}

func runGC(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	depth, _ := cmd.Flags().GetInt("retention-depth")

	cfg := config.LoadFromEnv()
	cfg.Database.DataDir = dataDir
	if depth < 0 {
		depth = cfg.Sync.RetentionDepth
	}

	p, err := peer.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening peer: %w", err)
	}
	defer p.Close()

	report, err := p.GC(depth)
	if err != nil {
		return fmt.Errorf("running gc: %w", err)
	}

	fmt.Printf("GC pass complete (retention depth %d)\n", report.RetentionDepth)
	fmt.Printf("  Nodes sealed:  %d\n", report.NodesSealed)
	fmt.Printf("  Nodes deleted: %d\n", report.NodesDeleted)
	fmt.Printf("  Cells pruned:  %d\n", report.CellsPruned)
	return nil
}

func runSyncExport(cmd *cobra.Command, args []string) error {
	p, err := openPeer(cmd)
	if err != nil {
		return fmt.Errorf("opening peer: %w", err)
	}
	defer p.Close()

	rawHeads, _ := cmd.Flags().GetStringSlice("since-head")
	peerHeads := make([]dag.NodeID, 0, len(rawHeads))
	for _, h := range rawHeads {
		decoded, err := hex.DecodeString(h)
		if err != nil {
			return fmt.Errorf("decoding --since-head %q: %w", h, err)
		}
		id, err := dag.NodeIDFromBytes(decoded)
		if err != nil {
			return fmt.Errorf("parsing --since-head %q: %w", h, err)
		}
		peerHeads = append(peerHeads, id)
	}

	cs, err := p.ChangesetSince(peerHeads)
	if err != nil {
		return fmt.Errorf("computing changeset: %w", err)
	}

	blob, err := changeset.Encode(cs)
	if err != nil {
		return fmt.Errorf("encoding changeset: %w", err)
	}

	if _, err := os.Stdout.Write(blob); err != nil {
		return fmt.Errorf("writing changeset: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote changeset: %d nodes, %d cells, %d bytes\n", len(cs.Nodes), len(cs.Cells), len(blob))
	return nil
}

func runSyncApply(cmd *cobra.Command, args []string) error {
	p, err := openPeer(cmd)
	if err != nil {
		return fmt.Errorf("opening peer: %w", err)
	}
	defer p.Close()

	blob, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading changeset from stdin: %w", err)
	}

	cs, err := changeset.Decode(blob)
	if err != nil {
		return fmt.Errorf("decoding changeset: %w", err)
	}

	report, err := p.ApplyChangeset(cs)
	if err != nil {
		return fmt.Errorf("applying changeset: %w", err)
	}

	fmt.Printf("Applied changeset\n")
	fmt.Printf("  Inserted:  %d\n", report.Inserted)
	fmt.Printf("  Updated:   %d\n", report.Updated)
	fmt.Printf("  Ignored:   %d\n", report.Ignored)
	fmt.Printf("  Conflicts: %d\n", report.ConflictsEqualVersion)
	if report.PolicyViolation {
		fmt.Println("  Note: a non-symmetric tie-break policy resolved at least one conflict")
	}
	return nil
}
