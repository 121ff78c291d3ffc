// Package checkpoint uploads frontier snapshots to a blob store while the
// crawl runs and restores the newest one on demand.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawlfrontier/internal/clock/system"
	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
	"github.com/JakeFAU/crawlfrontier/internal/storage/gcs"
	"github.com/JakeFAU/crawlfrontier/internal/storage/local"
)

const (
	latestName  = "LATEST"
	contentType = "application/x-ndjson"
	gsScheme    = "gs://"
	fileScheme  = "file://"
)

// Target is an opened checkpoint destination.
type Target struct {
	Store  storage.BlobStore
	Prefix string
	close  func() error
}

// Close releases the target's client, if any.
func (t *Target) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// Open resolves target. gs://bucket/prefix uses Cloud Storage with opts;
// anything else is a local directory, optionally file:// prefixed.
func Open(ctx context.Context, target string, opts ...option.ClientOption) (*Target, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("checkpoint target is required")
	}
	if !IsRemote(target) {
		store, err := local.New(local.Config{BaseDir: strings.TrimPrefix(target, fileScheme)})
		if err != nil {
			return nil, fmt.Errorf("open local checkpoint target: %w", err)
		}
		return &Target{Store: store}, nil
	}

	bucket, prefix := splitGS(target)
	if bucket == "" {
		return nil, fmt.Errorf("checkpoint target %q has no bucket", target)
	}
	client, err := gstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := gcs.New(client, gcs.Config{Bucket: bucket})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open gcs checkpoint target: %w", err)
	}
	return &Target{Store: store, Prefix: prefix, close: client.Close}, nil
}

// IsRemote reports whether uri names a Cloud Storage location.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, gsScheme)
}

func splitGS(uri string) (bucket, key string) {
	rest := strings.TrimPrefix(uri, gsScheme)
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(key, "/")
}

// OpenObject opens the bucket of a gs://bucket/key URI and returns the key.
func OpenObject(ctx context.Context, uri string, opts ...option.ClientOption) (*Target, string, error) {
	if !IsRemote(uri) {
		return nil, "", fmt.Errorf("%q is not a gs:// URI", uri)
	}
	bucket, key := splitGS(uri)
	if key == "" {
		return nil, "", fmt.Errorf("%q names no object", uri)
	}
	target, err := Open(ctx, gsScheme+bucket, opts...)
	if err != nil {
		return nil, "", err
	}
	return target, key, nil
}

// Config controls periodic uploads.
type Config struct {
	Prefix   string
	Interval time.Duration
}

// Checkpointer exports a provider's frontier into a BlobStore.
type Checkpointer struct {
	provider storage.Provider
	store    storage.BlobStore
	cfg      Config
	clock    crawler.Clock
	logger   *zap.Logger
}

// New builds a Checkpointer.
func New(provider storage.Provider, store storage.BlobStore, cfg Config, clock crawler.Clock, logger *zap.Logger) *Checkpointer {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Checkpointer{provider: provider, store: store, cfg: cfg, clock: clock, logger: logger}
}

// Save streams a snapshot to a timestamped object, then points LATEST at
// it. It returns the snapshot's URI.
func (c *Checkpointer) Save(ctx context.Context) (string, error) {
	name := path.Join(c.cfg.Prefix, "frontier-"+c.clock.Now().UTC().Format("20060102T150405.000Z")+".jsonl")

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := storage.Export(gctx, c.provider, pw)
		pw.CloseWithError(err)
		return err
	})
	var uri string
	g.Go(func() error {
		var err error
		uri, err = c.store.PutObject(gctx, name, contentType, pr)
		if err != nil {
			pr.CloseWithError(err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.ObserveCheckpoint("error")
		return "", fmt.Errorf("checkpoint %s: %w", name, err)
	}

	latest := path.Join(c.cfg.Prefix, latestName)
	if _, err := c.store.PutObject(ctx, latest, "text/plain", strings.NewReader(name+"\n")); err != nil {
		metrics.ObserveCheckpoint("error")
		return "", fmt.Errorf("update %s: %w", latest, err)
	}
	metrics.ObserveCheckpoint("ok")
	return uri, nil
}

// Latest returns the object path LATEST points at.
func (c *Checkpointer) Latest(ctx context.Context) (string, error) {
	rc, err := c.store.GetObject(ctx, path.Join(c.cfg.Prefix, latestName))
	if err != nil {
		return "", err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, 4096)); err != nil {
		return "", fmt.Errorf("read %s: %w", latestName, err)
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		return "", fmt.Errorf("%s is empty", latestName)
	}
	return name, nil
}

// Restore imports the newest snapshot into the provider.
func (c *Checkpointer) Restore(ctx context.Context) (name string, seen, items int, err error) {
	name, err = c.Latest(ctx)
	if err != nil {
		return "", 0, 0, err
	}
	rc, err := c.store.GetObject(ctx, name)
	if err != nil {
		return name, 0, 0, err
	}
	defer rc.Close()
	seen, items, err = storage.Import(ctx, c.provider, rc)
	if err != nil {
		return name, seen, items, fmt.Errorf("restore %s: %w", name, err)
	}
	return name, seen, items, nil
}

// Run saves every Interval until ctx ends. Failures are logged and the
// loop keeps going.
func (c *Checkpointer) Run(ctx context.Context) {
	if c.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uri, err := c.Save(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("checkpoint failed", zap.Error(err))
				continue
			}
			c.logger.Info("checkpoint saved", zap.String("uri", uri))
		}
	}
}
