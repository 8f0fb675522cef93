package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/reflexd/internal/config"
	"github.com/danielpatrickdp/reflexd/internal/engine"
	"github.com/danielpatrickdp/reflexd/internal/replay"
)

// #region main
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: replay <fixture.json>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Offline runs always execute in shadow mode against a throwaway store so
	// a fixture can never produce live side effects or pollute production data.
	cfg.ShadowMode = true
	cfg.DBPath = ":memory:"
	cfg.EvalMinSamples = 1

	fixture, err := replay.LoadFixture(os.Args[1])
	if err != nil {
		log.Fatalf("failed to load fixture: %v", err)
	}

	eng, db, err := engine.Bootstrap(cfg, zap.NewNop(), nil)
	if err != nil {
		log.Fatalf("failed to bootstrap engine: %v", err)
	}
	defer db.Close()

	summary, results, err := replay.Run(context.Background(), eng, fixture)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	fmt.Printf("Replayed %d samples: allow=%d fallback=%d block=%d agreement=%d/%d\n",
		summary.Total, summary.Allowed, summary.Fallbacks, summary.Blocks,
		summary.Agreement, summary.Total)
	for _, r := range results {
		marker := " "
		if !r.Agreed {
			marker = "✗"
		}
		fmt.Printf("  %s %-12s expect_reflex=%-5v  %q\n", marker, r.Decision, r.ExpectReflex, r.Text)
	}

	out, _ := json.MarshalIndent(summary.Report, "", "  ")
	fmt.Println(string(out))
}

// #endregion main
