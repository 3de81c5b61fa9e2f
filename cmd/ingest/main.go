package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"karmika-sahayak/backend/ai"
	"karmika-sahayak/backend/ingest"
	"karmika-sahayak/backend/pkg/config"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/vectorstore"
)

func main() {
	// Define command line flags
	dataPtr := flag.String("data", "data/ksk.md", "Comma-separated markdown files to ingest")
	recreatePtr := flag.Bool("recreate", false, "Drop and recreate the vector class before ingesting")
	concurrencyPtr := flag.Int("concurrency", 5, "Parallel embedding requests")
	batchPtr := flag.Int("batch", 64, "Chunks per vector-store batch")
	chunkSizePtr := flag.Int("chunk-size", 1000, "Chunk size in runes")
	overlapPtr := flag.Int("overlap", 150, "Rune overlap between adjacent chunks")
	helpPtr := flag.Bool("help", false, "Show usage information")

	flag.Parse()

	if *helpPtr {
		fmt.Println("Knowledge-base ingest usage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg := config.New()
	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format != "text",
	})
	logger.SetGlobal(log)

	var paths []string
	for _, p := range strings.Split(*dataPtr, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	paths = append(paths, flag.Args()...)
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "no input files given")
		os.Exit(1)
	}

	llm, err := ai.NewClient(ai.Options{
		Backend:    cfg.LLM.Backend,
		OllamaURL:  cfg.LLM.OllamaURL,
		OpenAIKey:  cfg.LLM.OpenAIKey,
		Model:      cfg.LLM.Model,
		EmbedModel: cfg.LLM.EmbedModel,
		Timeout:    cfg.LLM.Timeout,
	}, log)
	if err != nil {
		log.LogError(err, "Failed to create embedding client")
		os.Exit(1)
	}

	store, err := vectorstore.New(vectorstore.Options{
		Host:      cfg.VectorStore.Host,
		Scheme:    cfg.VectorStore.Scheme,
		ClassName: cfg.VectorStore.ClassName,
	}, log)
	if err != nil {
		log.LogError(err, "Failed to connect to vector store")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := ingest.NewRunner(llm, store, ingest.RunnerOptions{
		Concurrency: *concurrencyPtr,
		BatchSize:   *batchPtr,
		Recreate:    *recreatePtr,
		Chunk:       ingest.ChunkOptions{Size: *chunkSizePtr, Overlap: *overlapPtr},
	}, log)

	res, err := runner.Run(ctx, paths)
	if err != nil {
		log.LogError(err, "Ingest failed")
		os.Exit(1)
	}

	fmt.Printf("Ingested %d chunks from %d files into class %q (%d skipped)\n",
		res.Stored, res.Files, store.ClassName(), res.Skipped)
}
