package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/reflexd/internal/classifier"
	"github.com/danielpatrickdp/reflexd/internal/config"
	"github.com/danielpatrickdp/reflexd/internal/engine"
	"github.com/danielpatrickdp/reflexd/internal/policy"
	"github.com/danielpatrickdp/reflexd/internal/safety"
)

// #region main
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProductionConfig().Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Connect to the classifier sidecar. A dial failure is not fatal:
	// escalated safety checks resolve conservatively without it.
	var deep safety.DeepClassifier
	deepClient, err := classifier.NewClient(cfg.ClassifierAddr)
	if err != nil {
		logger.Warn("classifier unavailable, deep tier degraded", zap.Error(err))
	} else {
		deep = deepClient
		defer deepClient.Close()
	}

	eng, db, err := engine.Bootstrap(cfg, logger, deep)
	if err != nil {
		log.Fatalf("failed to bootstrap engine: %v", err)
	}
	defer db.Close()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go eng.RunSweeper(sweepCtx, time.Hour, cfg.ActionRetention)

	fmt.Println("Reflex Decision Engine ready.")
	fmt.Printf("  DB: %s | Classifier: %s | Shadow: %v | Level: %s\n",
		cfg.DBPath, cfg.ClassifierAddr, cfg.ShadowMode, cfg.PolicyLevel)
	fmt.Println("Type text to analyze, 'report' for the shadow report, or 'quit' to exit:")

	actorID := envOr("REFLEXD_ACTOR", "local-operator")
	tenantID := envOr("REFLEXD_TENANT", "local")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if line == "report" {
			printReport(eng)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		res, err := eng.Analyze(ctx, engine.AnalyzeRequest{
			Text:     line,
			Context:  policy.Context{Mode: "chat", Tier: "authenticated"},
			ActorID:  actorID,
			TenantID: tenantID,
		})
		cancel()
		if err != nil {
			log.Printf("analyze error: %v", err)
			continue
		}

		fmt.Printf("[%s] decision=%s effective=%s confidence=%.3f shadow=%v latency=%dms\n",
			res.TraceID[:8], res.Decision.Kind, res.Effective,
			res.Decision.Confidence, res.Shadow, res.ProcessingTimeMs)
		if res.Safety != nil {
			fmt.Printf("  safety: %s (%s tier) %s\n", res.Safety.Verdict, res.Safety.Tier, res.Safety.Reason)
		}
		if res.Action != nil {
			fmt.Printf("  action: %s mode=%s status=%s replayed=%v\n",
				res.Action.Action, res.Action.Mode, res.Action.Status, res.Action.Replayed)
		}
	}
}

// #endregion main

// #region helpers
func printReport(eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := eng.Report(ctx)
	if err != nil {
		log.Printf("report error: %v", err)
		return
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
