package download

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/kestrel/internal/policy"
	"github.com/tanq16/kestrel/internal/registry"
)

// Passive tracks a download the rendering engine performs itself. The engine
// asks Destination for a path, writes the bytes there and calls Finish.
type Passive struct {
	o       *Orchestrator
	meta    policy.ResponseMetadata
	started time.Time

	mu       sync.Mutex
	path     string
	finished bool
}

// Divert hands a response the policy classified as a download over to the
// orchestrator.
func (o *Orchestrator) Divert(meta policy.ResponseMetadata) *Passive {
	log.Debug().Str("op", "download/passive").Msgf("diverting %s (%s)", sourceOf(meta), meta.MIMEType)
	return &Passive{o: o, meta: meta, started: time.Now()}
}

// Destination picks a free path in the downloads directory for suggested, or
// for a name derived from the response when suggested is empty. Repeated
// calls return the first path.
func (p *Passive) Destination(suggested string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return "", ErrFinished
	}
	if p.path != "" {
		return p.path, nil
	}
	name := suggested
	if name == "" {
		name = SuggestName(sourceOf(p.meta), p.meta.Header)
	}
	name = WithExtension(name, p.meta.MIMEType)
	path, err := p.o.claim(p.o.cfg.Dir, name)
	if err != nil {
		return "", p.o.fail("passive", sourceOf(p.meta), err)
	}
	p.path = path
	return path, nil
}

// Finish reports the end of the engine's transfer. On success the saved file
// is recorded; on failure the partial file is removed and the error returned
// as is.
func (p *Passive) Finish(transferErr error) (*registry.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return nil, ErrFinished
	}
	p.finished = true
	src := sourceOf(p.meta)
	if transferErr != nil {
		if p.path != "" {
			os.Remove(p.path)
		}
		return nil, p.o.fail("passive", src, transferErr)
	}
	if p.path == "" {
		return nil, p.o.fail("passive", src, ErrNoDestination)
	}
	rec, err := p.o.record("passive", src, p.path, p.started)
	if err != nil {
		return nil, p.o.fail("passive", src, err)
	}
	return rec, nil
}

func sourceOf(meta policy.ResponseMetadata) string {
	if meta.URL == nil {
		return ""
	}
	return meta.URL.String()
}
