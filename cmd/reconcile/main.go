package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skalamera/freshdesk-reconcile/pkg/config"
	"github.com/skalamera/freshdesk-reconcile/pkg/crypto"
	"github.com/skalamera/freshdesk-reconcile/pkg/freshdesk"
	"github.com/skalamera/freshdesk-reconcile/pkg/graph"
	"github.com/skalamera/freshdesk-reconcile/pkg/propagate"
	"github.com/skalamera/freshdesk-reconcile/pkg/reconcile"
	"github.com/skalamera/freshdesk-reconcile/pkg/runstore"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "compute and report deltas without writing")
	sealKey := flag.Bool("seal-key", false, "encrypt FRESHDESK_API_KEY into FRESHDESK_KEY_FILE and exit")
	jsonOut := flag.Bool("json", false, "print the full report as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] TICKET_ID [TICKET_ID...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if *sealKey {
		if err := sealAPIKey(cfg); err != nil {
			log.Fatalf("Failed to seal API key: %v", err)
		}
		log.Printf("API key sealed to %s", cfg.KeyFile)
		return
	}

	seeds, err := parseSeeds(flag.Args())
	if err != nil {
		log.Fatalf("Invalid ticket id: %v", err)
	}
	if len(seeds) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		raw, err := crypto.DecryptFile(cfg.KeyFile, []byte(cfg.KeyPassphrase))
		if err != nil {
			log.Fatalf("Failed to decrypt API key: %v", err)
		}
		apiKey = strings.TrimSpace(string(raw))
	}

	rules := &propagate.Rules{}
	if cfg.RulesPath != "" {
		rules, err = propagate.LoadRules(cfg.RulesPath)
		if err != nil {
			log.Fatalf("Failed to load rules: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client, err := freshdesk.NewClient(freshdesk.ClientOptions{
		BaseURL:           cfg.APIBaseURL() + "/api/v2",
		APIKey:            apiKey,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("Failed to build API client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	report, err := run(ctx, cfg, client, rules, logger, seeds, *dryRun || cfg.DryRun)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
	} else {
		fmt.Println(report.String())
	}

	if !report.Ok() {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, client *freshdesk.Client,
	rules *propagate.Rules, logger *slog.Logger, seeds []int64, dryRun bool) (reconcile.Report, error) {

	audit := runstore.NewRun(seeds, dryRun)

	g, err := graph.NewBuilder(graph.ClientFetcher{Client: client}, logger).Build(ctx, seeds, cfg.MaxDepth)
	if err != nil {
		return reconcile.Report{}, fmt.Errorf("building association graph: %w", err)
	}
	logger.Info("graph built",
		slog.Int("tickets", len(g.TicketIDs())),
		slog.Int("edges", len(g.Edges())),
		slog.Int("unresolved", len(g.Unresolved())))

	states, err := companyStates(ctx, client, g)
	if err != nil {
		return reconcile.Report{}, fmt.Errorf("fetching company states: %w", err)
	}

	results := propagate.Propagate(g, rules, states)

	orch := reconcile.NewOrchestrator(client, reconcile.Options{
		Workers:        cfg.Concurrency,
		OpenOnReassign: cfg.OpenOnReassign,
		Logger:         logger,
	})
	report := reconcile.Summarize(orch.Apply(ctx, results, dryRun))

	audit.FinishedAt = time.Now().UTC()
	audit.Report = report
	if cfg.DatabaseURL != "" {
		if err := saveRun(cfg.DatabaseURL, audit); err != nil {
			logger.Error("run history not saved", slog.Any("error", err))
		}
	}
	return report, nil
}

// companyStates fetches the state field for every company referenced by a
// graph node. A missing company just contributes no state.
func companyStates(ctx context.Context, client *freshdesk.Client, g *graph.Graph) (map[int64]string, error) {
	states := make(map[int64]string)
	for _, id := range g.TicketIDs() {
		node := g.Node(id)
		if node.CompanyID == 0 {
			continue
		}
		if _, done := states[node.CompanyID]; done {
			continue
		}
		company, err := client.Company(ctx, node.CompanyID)
		if errors.Is(err, freshdesk.ErrNotFound) {
			states[node.CompanyID] = ""
			continue
		}
		if err != nil {
			return nil, err
		}
		states[node.CompanyID] = company.State()
	}
	return states, nil
}

func saveRun(dsn string, audit runstore.Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := runstore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveRun(ctx, audit)
}

func sealAPIKey(cfg *config.Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("FRESHDESK_API_KEY must be set to seal it")
	}
	if cfg.KeyFile == "" || cfg.KeyPassphrase == "" {
		return fmt.Errorf("FRESHDESK_KEY_FILE and FRESHDESK_KEY_PASSPHRASE are required")
	}
	return crypto.EncryptToFile(cfg.KeyFile, []byte(cfg.APIKey), []byte(cfg.KeyPassphrase))
}

func parseSeeds(args []string) ([]int64, error) {
	var seeds []int64
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a ticket id", field)
			}
			seeds = append(seeds, id)
		}
	}
	return seeds, nil
}
