package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/kestrel/internal/destination"
	"github.com/tanq16/kestrel/internal/fetch"
	"github.com/tanq16/kestrel/internal/metrics"
	"github.com/tanq16/kestrel/internal/registry"
)

var (
	ErrNoPicker      = errors.New("save prompt requested but no picker is configured")
	ErrNoDestination = errors.New("download finished before a destination was chosen")
	ErrFinished      = errors.New("download already finished")
)

const claimAttempts = 5

// SavePicker asks the user where to save a download. ok is false when the
// user cancelled.
type SavePicker interface {
	PickSavePath(ctx context.Context, dir, suggested string) (path string, ok bool, err error)
}

type Config struct {
	// Dir is the implicit downloads directory.
	Dir string
	// TempDir holds in-flight .part files; defaults to Dir/.kestrel-temp.
	TempDir    string
	Resolver   *destination.Resolver
	Registry   *registry.Registry
	Downloader fetch.Downloader
	Picker     SavePicker
	Metrics    *metrics.Metrics
}

// FetchOptions controls an active fetch.
type FetchOptions struct {
	// Prompt asks the SavePicker for the destination.
	Prompt bool
	// Directory overrides Config.Dir for this fetch.
	Directory string
}

// Orchestrator drives downloads from the network to a recorded file in the
// downloads directory.
type Orchestrator struct {
	cfg Config
	// claimMu serialises resolve-and-create so concurrent downloads never
	// land on the same path
	claimMu sync.Mutex
	wg      sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(cfg.Dir, ".kestrel-temp")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = destination.New(0)
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(registry.Options{Dir: cfg.Dir, Metrics: cfg.Metrics})
	}
	return &Orchestrator{cfg: cfg}
}

func (o *Orchestrator) Registry() *registry.Registry {
	return o.cfg.Registry
}

func (o *Orchestrator) Dir() string {
	return o.cfg.Dir
}

// Fetch downloads rawURL to a temporary file, picks the destination and moves
// the payload there. A cancelled save prompt returns (nil, nil).
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*registry.Record, error) {
	started := time.Now()
	if o.cfg.Downloader == nil {
		return nil, o.fail("active", rawURL, errors.New("no downloader configured"))
	}
	log.Info().Str("op", "download/fetch").Msgf("fetching %s", rawURL)
	tr, err := o.cfg.Downloader.Download(ctx, rawURL, o.cfg.TempDir)
	if err != nil {
		return nil, o.fail("active", rawURL, err)
	}

	name := sniffedExtension(SuggestName(tr.URL, tr.Header), tr.TempPath)
	dir := opts.Directory
	if dir == "" {
		dir = o.cfg.Dir
	}
	if opts.Prompt {
		if o.cfg.Picker == nil {
			os.Remove(tr.TempPath)
			return nil, o.fail("active", rawURL, ErrNoPicker)
		}
		chosen, ok, err := o.cfg.Picker.PickSavePath(ctx, dir, name)
		if err != nil {
			os.Remove(tr.TempPath)
			return nil, o.fail("active", rawURL, fmt.Errorf("save prompt failed: %w", err))
		}
		if !ok {
			os.Remove(tr.TempPath)
			o.cfg.Metrics.Download("active", "cancelled", 0, 0)
			log.Info().Str("op", "download/fetch").Msgf("save cancelled for %s", rawURL)
			return nil, nil
		}
		dir, name = filepath.Dir(chosen), filepath.Base(chosen)
	}

	path, err := o.claim(dir, name)
	if err != nil {
		os.Remove(tr.TempPath)
		return nil, o.fail("active", rawURL, err)
	}
	if err := moveFile(tr.TempPath, path); err != nil {
		os.Remove(tr.TempPath)
		os.Remove(path)
		return nil, o.fail("active", rawURL, err)
	}
	rec, err := o.record("active", rawURL, path, started)
	if err != nil {
		return nil, o.fail("active", rawURL, err)
	}
	return rec, nil
}

// Start runs Fetch in the background. Failures are only logged.
func (o *Orchestrator) Start(ctx context.Context, rawURL string, opts FetchOptions) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Fetch(ctx, rawURL, opts)
	}()
}

// Wait blocks until every download begun with Start has ended.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// claim resolves a free path in dir and creates an empty file there so no
// concurrent download can pick the same name.
func (o *Orchestrator) claim(dir, name string) (string, error) {
	// seed from the directory before anything of ours lands in it
	o.cfg.Registry.Load()
	o.claimMu.Lock()
	defer o.claimMu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory %s: %w", dir, err)
	}
	for range claimAttempts {
		path, err := o.cfg.Resolver.Resolve(dir, name)
		if err != nil {
			return "", err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			// another process took it between the check and the create
			continue
		}
		if err != nil {
			return "", fmt.Errorf("error creating %s: %w", path, err)
		}
		f.Close()
		return path, nil
	}
	return "", fmt.Errorf("could not claim a path for %s in %s", name, dir)
}

func (o *Orchestrator) record(mode, sourceURL, path string, started time.Time) (*registry.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error reading saved file: %w", err)
	}
	rec := registry.Record{
		ID:        uuid.NewString(),
		SourceURL: sourceURL,
		Name:      filepath.Base(path),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: time.Now(),
		Completed: true,
	}
	if err := o.cfg.Registry.Insert(rec); err != nil {
		return nil, err
	}
	o.cfg.Metrics.Download(mode, "ok", rec.Size, time.Since(started))
	log.Info().Str("op", "download/"+mode).Msgf("saved %s (%s)", path, humanize.Bytes(uint64(rec.Size)))
	return &rec, nil
}

func (o *Orchestrator) fail(mode, sourceURL string, err error) error {
	o.cfg.Metrics.Download(mode, "failed", 0, 0)
	log.Error().Str("op", "download/"+mode).Err(err).Msgf("download of %s failed", sourceURL)
	return err
}

// moveFile renames src to dst, copying across filesystems when rename cannot.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("error moving file: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("error creating destination: %w", err)
	}
	if _, err := io.CopyBuffer(out, in, make([]byte, fetch.DefaultBufferSize)); err != nil {
		out.Close()
		return fmt.Errorf("error copying file: %w", err)
	}
	return out.Close()
}
