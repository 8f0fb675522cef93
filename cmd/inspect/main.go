package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/reflexd/internal/eval"
	"github.com/danielpatrickdp/reflexd/internal/habit"
	"github.com/danielpatrickdp/reflexd/internal/logging"
	"github.com/danielpatrickdp/reflexd/internal/storage"
)

// #region main
func main() {
	if len(os.Args) < 2 {
		usage()
	}

	dbPath := envOr("REFLEXD_DB", "reflexd.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "decisions":
		limit := 20
		if len(os.Args) > 2 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil {
				limit = n
			}
		}
		declog, err := logging.NewDecisionLog(db, zap.NewNop())
		if err != nil {
			log.Fatalf("decision log: %v", err)
		}
		entries, err := declog.Recent(limit)
		if err != nil {
			log.Fatalf("list decisions: %v", err)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-12s conf=%.3f level=%-8s shadow=%v mode=%-8s %dms  %s\n",
				e.CreatedAt.Format(time.RFC3339), e.Decision, e.Confidence,
				e.PolicyLevel, e.Shadow, e.Mode, e.LatencyMs, e.TraceID)
		}

	case "habits":
		if len(os.Args) < 3 {
			log.Fatal("usage: inspect habits <actor-id>")
		}
		store, err := habit.NewStore(db, habit.DefaultConfig())
		if err != nil {
			log.Fatalf("habit store: %v", err)
		}
		export, err := store.Export(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("export: %v", err)
		}
		out, _ := json.MarshalIndent(export, "", "  ")
		fmt.Println(string(out))

	case "report":
		evaluator, err := eval.NewEvaluator(db, eval.DefaultTargets())
		if err != nil {
			log.Fatalf("evaluator: %v", err)
		}
		report, err := evaluator.Report(ctx)
		if err != nil {
			log.Fatalf("report: %v", err)
		}
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))

	default:
		usage()
	}
}

// #endregion main

// #region helpers
func usage() {
	fmt.Fprintln(os.Stderr, "usage: inspect decisions [n] | habits <actor-id> | report")
	os.Exit(2)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
