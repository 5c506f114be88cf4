package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"organiclm/config"
	"organiclm/model"
	"organiclm/train"
	"organiclm/vocab"
)

func main() {
	fs := flag.NewFlagSet("organiclm", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file (optional)")
	text := fs.String("text", "abc", "Input text, one symbol per byte")
	steps := fs.Int("steps", 0, "Training steps (0 uses the config value)")
	dim := fs.Int("dim", 0, "Embedding dimension (0 uses the config value)")
	seed := fs.Uint64("seed", 0, "Random seed (0 uses the config value)")
	lr := fs.Float64("lr", 0, "Adam learning rate (0 uses the config value)")
	metricsPath := fs.String("metrics", "", "Write per-step losses as JSON to this file")

	fs.Parse(os.Args[1:])

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Loading config failed: %v", err)
		}
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}
	if *dim > 0 {
		cfg.Dim = *dim
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *lr > 0 {
		cfg.Adam.LR = *lr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if len(*text) == 0 {
		fmt.Println("Error: --text must not be empty")
		fs.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("🧬 OrganicLM - Staged Transformer Cascade")
	fmt.Println("=========================================")

	fmt.Println("\n🧠 Initializing model...")
	m, err := model.New(cfg)
	if err != nil {
		log.Fatalf("Building model failed: %v", err)
	}
	fmt.Printf("Parameters: %d in %d tensors\n", m.Params().Count(), m.Params().Len())
	fmt.Printf("Architecture: %d stages x %d layers, %d heads, dim %d, ff %d\n",
		model.NumStages, cfg.Layers, cfg.Heads, cfg.Dim, cfg.FFHidden)

	pairs := vocab.PairsFromBytes([]byte(*text))
	fmt.Printf("\n🔢 Encoding %q...\n", *text)
	for i, p := range pairs {
		id, err := m.Encoder().Index(p.Symbol, p.Position)
		if err != nil {
			log.Fatalf("Encoding position %d failed: %v", i, err)
		}
		fmt.Printf("  %q parity %d -> row %d\n", rune(p.Symbol), p.Position, id)
	}
	fmt.Printf("Vocabulary size: %d / %d\n", m.Vocabulary().Len(), m.Vocabulary().Capacity())

	target := train.RandomTarget(cfg.Dim, cfg.Seed)
	targets := train.SharedTarget(target)

	before, err := train.Evaluate(m, pairs, targets)
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	fmt.Printf("Initial stage losses: %.4f / %.4f / %.4f\n", before[0], before[1], before[2])

	fmt.Printf("\n🏋️ Training for %d steps...\n", cfg.Steps)
	tr := train.New(m)
	tr.Logger = log.New(os.Stdout, "  ", 0)
	history, err := tr.Train([]train.Example{{Pairs: pairs, Targets: targets}}, cfg.Steps)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	after, err := train.Evaluate(m, pairs, targets)
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	fmt.Printf("Final stage losses: %.4f / %.4f / %.4f\n", after[0], after[1], after[2])

	if *metricsPath != "" {
		if err := train.SaveMetricsJSON(*metricsPath, train.Metrics{Steps: history}); err != nil {
			fmt.Printf("Warning: Failed to save metrics: %v\n", err)
		} else {
			fmt.Printf("📊 Metrics saved to: %s\n", *metricsPath)
		}
	}

	fmt.Println("\n✅ Done!")
}
