// Command monkeyd runs the typewriting-monkey streaming service: it
// reconciles durable state from the previous run, then serves the
// REST and WebSocket surfaces described in spec §6 until it receives a
// termination signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/owlglass/typewritermonkey/internal/chunkstore"
	"github.com/owlglass/typewritermonkey/internal/config"
	"github.com/owlglass/typewritermonkey/internal/dictionary"
	"github.com/owlglass/typewritermonkey/internal/docstore"
	"github.com/owlglass/typewritermonkey/internal/engine"
	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
	"github.com/owlglass/typewritermonkey/internal/prng"
	"github.com/owlglass/typewritermonkey/internal/scanner"
	"github.com/owlglass/typewritermonkey/internal/transport"
	"github.com/owlglass/typewritermonkey/internal/worddetect"
	"github.com/owlglass/typewritermonkey/internal/wordstore"
)

func main() {
	opts := config.Default()

	root := &cobra.Command{
		Use:           "monkeyd",
		Short:         "serve the typewriting-monkey character stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.PreRun(cmd.Flags(), os.LookupEnv); err != nil {
				return err
			}
			return serve(cmd.Context(), opts)
		},
	}
	opts.AddFlags(root.Flags())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.IsFatal(err) {
			fmt.Fprintln(os.Stderr, "monkeyd: fatal:", err)
		} else {
			fmt.Fprintln(os.Stderr, "monkeyd:", err)
		}
		os.Exit(1)
	}
}

func serve(ctx context.Context, opts config.Options) error {
	dict, err := dictionary.Load(opts.DictionaryPath)
	if err != nil {
		return err
	}
	logging.Log("monkeyd: loaded %d dictionary words", dict.Size())

	be, err := openBackend(ctx, opts)
	if err != nil {
		return err
	}

	store, err := chunkstore.Create(ctx, be, chunkstore.DefaultChunkSize)
	if err != nil {
		return errors.Wrap(err, "opening chunk store")
	}

	words, err := wordstore.Open(ctx, be)
	if err != nil {
		return errors.Wrap(err, "opening word store")
	}

	hits, err := words.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "loading persisted word hits")
	}

	recovered, err := scanner.Scan(ctx, dict, store, words.High(), store.Cursor())
	if err != nil {
		return errors.Fatalf("startup scan failed: %v", err)
	}
	if len(recovered) > 0 {
		logging.Log("monkeyd: startup scan recovered %d unpersisted word hits", len(recovered))
		for _, h := range recovered {
			if err := words.Add(ctx, h); err != nil {
				logging.Errorf("monkeyd: persisting recovered hit failed: %v", err)
			}
		}
		hits = mergeHits(hits, recovered)
	}

	detector := worddetect.New(dict)
	gen := prng.New(prng.Seed, store.Cursor(), store)
	eng := engine.New(gen, store, detector, words, hits, opts.TestMode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.HTTPPort),
		Handler: transport.NewServer(eng, dict).Router(),
	}
	g.Go(func() error {
		logging.Log("monkeyd: serving on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	<-gctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("monkeyd: shutdown error: %v", err)
	}

	return g.Wait()
}

// openBackend opens the configured durable document backend. The S3
// driver's initial bucket check is retried with backoff, since
// reaching an external object store at process start is exactly the
// kind of transient failure the teacher's backend layer treats as
// retryable (cenkalti/backoff wraps the teacher's local/s3 backend
// operations the same way).
func openBackend(ctx context.Context, opts config.Options) (docstore.Backend, error) {
	switch opts.Backend {
	case "local":
		be, err := docstore.NewLocal(opts.DataDir)
		if err != nil {
			return nil, errors.Wrap(err, "opening local backend")
		}
		return docstore.NewRetryBackend(be, 5), nil
	case "s3":
		cfg := docstore.S3Config{
			Endpoint:  opts.S3Endpoint,
			Bucket:    opts.S3Bucket,
			AccessKey: opts.S3AccessKey,
			SecretKey: opts.S3SecretKey,
			UseSSL:    opts.S3UseSSL,
		}

		var be *docstore.S3
		retry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
		err := backoff.Retry(func() error {
			s3, err := docstore.NewS3(ctx, cfg)
			if err != nil {
				if errors.IsFatal(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			be = s3
			return nil
		}, retry)
		if err != nil {
			return nil, errors.Wrap(err, "opening s3 backend")
		}
		return docstore.NewRetryBackend(be, 5), nil
	default:
		return nil, errors.Fatalf("unknown backend %q", opts.Backend)
	}
}

// mergeHits combines the persisted hit list with the Startup Scanner's
// recovered hits, sorted by start ascending (spec §4.5 "prepends them
// in start order before accepting subscribers").
func mergeHits(persisted, recovered []worddetect.Hit) []worddetect.Hit {
	merged := append(append([]worddetect.Hit{}, persisted...), recovered...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}
