package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/vectorstore"
)

// EmbedClient is the embedding surface ingestion needs.
type EmbedClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the vector-store surface ingestion needs.
type ChunkStore interface {
	EnsureSchema(ctx context.Context) error
	DeleteClass(ctx context.Context) error
	BatchUpsert(ctx context.Context, chunks []vectorstore.Chunk) (int, error)
}

// RunnerOptions configure one ingestion run.
type RunnerOptions struct {
	Concurrency int
	BatchSize   int
	Recreate    bool
	Chunk       ChunkOptions
}

// DefaultRunnerOptions returns the ingestion defaults.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		Concurrency: 5,
		BatchSize:   64,
		Chunk:       DefaultChunkOptions(),
	}
}

// Result summarizes an ingestion run.
type Result struct {
	Files    int
	Chunks   int
	Embedded int
	Skipped  int
	Stored   int
}

// Runner chunks knowledge-base documents, embeds the chunks with bounded
// concurrency, and upserts them into the vector store. A chunk whose
// embedding fails is skipped with a warning; it never fails the run.
type Runner struct {
	embed EmbedClient
	store ChunkStore
	opts  RunnerOptions
	log   *logger.Logger
}

func NewRunner(embed EmbedClient, store ChunkStore, opts RunnerOptions, log *logger.Logger) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultRunnerOptions().Concurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultRunnerOptions().BatchSize
	}
	return &Runner{embed: embed, store: store, opts: opts, log: log}
}

type chunkJob struct {
	source string
	index  int
	text   string
}

// Run ingests the given files. With Recreate set, the existing class is
// dropped first so stale chunks disappear.
func (r *Runner) Run(ctx context.Context, paths []string) (*Result, error) {
	res := &Result{}

	var jobs []chunkJob
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", path, err)
		}
		res.Files++

		source := filepath.Base(path)
		chunks := ChunkMarkdown(string(content), r.opts.Chunk)
		for i, text := range chunks {
			jobs = append(jobs, chunkJob{source: source, index: i, text: text})
		}
		r.log.Info("Chunked document", "source", source, "chunks", len(chunks))
	}
	res.Chunks = len(jobs)

	if len(jobs) == 0 {
		r.log.Warn("No chunks produced, nothing to ingest")
		return res, nil
	}

	if r.opts.Recreate {
		r.log.Info("Recreating vector class before ingest")
		if err := r.store.DeleteClass(ctx); err != nil {
			// First runs have no class to drop; EnsureSchema surfaces
			// real connectivity failures.
			r.log.Warn("Class delete failed, continuing", "error", err.Error())
		}
	}
	if err := r.store.EnsureSchema(ctx); err != nil {
		return res, fmt.Errorf("ensure schema: %w", err)
	}

	embedded := make([]vectorstore.Chunk, len(jobs))
	ok := make([]bool, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			vec, err := r.embed.Embed(gctx, job.text)
			if err != nil {
				r.log.Warn("Chunk embedding failed, skipping",
					"source", job.source, "chunk", job.index, "error", err.Error())
				return nil
			}
			embedded[i] = vectorstore.Chunk{
				Text:       job.text,
				Source:     job.source,
				ChunkIndex: job.index,
				Vector:     vec,
			}
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var batch []vectorstore.Chunk
	for i := range jobs {
		if !ok[i] {
			res.Skipped++
			continue
		}
		res.Embedded++
		batch = append(batch, embedded[i])

		if len(batch) >= r.opts.BatchSize {
			stored, err := r.store.BatchUpsert(ctx, batch)
			res.Stored += stored
			if err != nil {
				return res, fmt.Errorf("upsert batch: %w", err)
			}
			batch = nil
		}
	}
	if len(batch) > 0 {
		stored, err := r.store.BatchUpsert(ctx, batch)
		res.Stored += stored
		if err != nil {
			return res, fmt.Errorf("upsert batch: %w", err)
		}
	}

	if res.Skipped > 0 {
		r.log.Warn("Some chunks failed to embed and were skipped",
			"skipped", res.Skipped, "total", res.Chunks)
	}
	if res.Embedded == 0 {
		r.log.Warn("No chunks were embedded successfully, nothing was stored")
		return res, nil
	}

	r.log.Info("Ingest complete",
		"files", res.Files,
		"chunks", res.Chunks,
		"stored", res.Stored,
		"skipped", res.Skipped)
	return res, nil
}
