package session

import (
	"io"
	"net/url"
	"strings"

	"github.com/tanq16/kestrel/internal/policy"
	"github.com/tanq16/kestrel/internal/registry"
)

// Action is the answer to the engine's per-response hook.
type Action int

const (
	ActionAllowRender Action = iota
	ActionAllowDownload
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionAllowDownload:
		return "allow-download"
	case ActionBlock:
		return "block"
	default:
		return "allow-render"
	}
}

// schemes a tab is willing to load
var webSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
	"data":  true,
	"blob":  true,
	"about": true,
}

type NavigationHandler interface {
	// WillNavigate is called before a request is issued.
	WillNavigate(u *url.URL) policy.Verdict
	// DidFinishNavigation is called once the document has fully loaded.
	DidFinishNavigation(u *url.URL, document io.Reader)
}

type ResponseHandler interface {
	DecideResponse(meta policy.ResponseMetadata) Action
}

// PassiveDownload is the engine's view of a diverted response.
type PassiveDownload interface {
	Destination(suggested string) (string, error)
	Finish(err error) (*registry.Record, error)
}

type DownloadHandler interface {
	// Begin is called after DecideResponse returned ActionAllowDownload.
	Begin(meta policy.ResponseMetadata) PassiveDownload
}

type MessageHandler interface {
	HandleMessage(msg Message) error
}

type navigationAdapter struct{ s *Session }

func (a navigationAdapter) WillNavigate(u *url.URL) policy.Verdict {
	v := a.s.cfg.Policy.Navigate(u)
	a.s.setSuppressed(v.SuppressStyling)
	return v
}

func (a navigationAdapter) DidFinishNavigation(u *url.URL, document io.Reader) {
	a.s.didFinishNavigation(u, document)
}

type responseAdapter struct{ s *Session }

func (a responseAdapter) DecideResponse(meta policy.ResponseMetadata) Action {
	if meta.URL == nil || !webSchemes[strings.ToLower(meta.URL.Scheme)] {
		a.s.log.Debug().Str("op", "session/response").Msg("blocking response without a loadable URL")
		return ActionBlock
	}
	v := a.s.cfg.Policy.Evaluate(meta)
	a.s.setSuppressed(v.SuppressStyling)
	if v.Decision == policy.Download {
		a.s.log.Debug().Str("op", "session/response").Msgf("diverting %s (%s)", meta.URL, v.Reason)
		return ActionAllowDownload
	}
	return ActionAllowRender
}

type downloadAdapter struct{ s *Session }

func (a downloadAdapter) Begin(meta policy.ResponseMetadata) PassiveDownload {
	return a.s.cfg.Downloads.Divert(meta)
}
