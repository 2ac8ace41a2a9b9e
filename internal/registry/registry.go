package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/kestrel/internal/metrics"
)

var (
	ErrNoID        = errors.New("record has no id")
	ErrDuplicateID = errors.New("record id already present")
	ErrIncomplete  = errors.New("record is not completed")
)

const DefaultBootstrapLimit = 20

// Record describes a download whose bytes have reached their destination.
type Record struct {
	ID        string
	SourceURL string
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
	Completed bool
}

type Options struct {
	// Dir is scanned once, on first access, to seed the registry.
	Dir string
	// BootstrapLimit caps the seeded records; 0 means DefaultBootstrapLimit.
	BootstrapLimit int
	Metrics        *metrics.Metrics
}

// Registry is the ordered store of finished downloads. List yields the most
// recent record first. All methods are safe for concurrent use.
type Registry struct {
	opts Options
	once sync.Once

	mu      sync.RWMutex
	records []Record // oldest first
	ids     map[string]struct{}
	subs    map[int]chan struct{}
	nextSub int
}

func New(opts Options) *Registry {
	if opts.BootstrapLimit <= 0 {
		opts.BootstrapLimit = DefaultBootstrapLimit
	}
	return &Registry{
		opts: opts,
		ids:  make(map[string]struct{}),
		subs: make(map[int]chan struct{}),
	}
}

// Load seeds the registry from Dir if that has not happened yet. Callers
// that are about to create files in Dir call it first so the scan only sees
// files that existed before.
func (r *Registry) Load() {
	r.bootstrap()
}

func (r *Registry) bootstrap() {
	r.once.Do(func() {
		if r.opts.Dir == "" {
			return
		}
		seed, err := scanDir(r.opts.Dir, r.opts.BootstrapLimit)
		if err != nil {
			log.Warn().Str("op", "registry/bootstrap").Err(err).Msgf("could not scan %s", r.opts.Dir)
			return
		}
		r.mu.Lock()
		// seed is newest first; storage is oldest first
		for i := len(seed) - 1; i >= 0; i-- {
			r.records = append(r.records, seed[i])
			r.ids[seed[i].ID] = struct{}{}
		}
		n := len(r.records)
		r.mu.Unlock()
		r.opts.Metrics.Records(n)
		log.Debug().Str("op", "registry/bootstrap").Msgf("seeded %d records from %s", len(seed), r.opts.Dir)
	})
}

// Insert adds a completed record as the newest entry and signals subscribers.
func (r *Registry) Insert(rec Record) error {
	if rec.ID == "" {
		return ErrNoID
	}
	if !rec.Completed {
		return fmt.Errorf("%w: %s", ErrIncomplete, rec.ID)
	}
	r.bootstrap()
	r.mu.Lock()
	if _, dup := r.ids[rec.ID]; dup {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	r.records = append(r.records, rec)
	r.ids[rec.ID] = struct{}{}
	n := len(r.records)
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	r.mu.Unlock()
	r.opts.Metrics.Records(n)
	return nil
}

// List returns a snapshot, newest first.
func (r *Registry) List() []Record {
	r.bootstrap()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[len(r.records)-1-i] = rec
	}
	return out
}

func (r *Registry) Get(id string) (Record, bool) {
	r.bootstrap()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ids[id]; !ok {
		return Record{}, false
	}
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ID == id {
			return r.records[i], true
		}
	}
	return Record{}, false
}

func (r *Registry) Len() int {
	r.bootstrap()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Subscribe returns a channel that receives a signal after every insert.
// Signals coalesce: a slow reader sees at most one pending signal and should
// re-read List. The returned func unsubscribes and closes the channel.
func (r *Registry) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// scanDir returns records for the newest regular, non-hidden files in dir.
// A missing directory is not an error.
func scanDir(dir string, limit int) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		records = append(records, Record{
			ID:        uuid.NewString(),
			Name:      entry.Name(),
			Path:      path,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Completed: true,
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
