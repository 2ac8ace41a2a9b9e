package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tanq16/kestrel/internal/download"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrNoDownloads    = errors.New("session has no download orchestrator")
)

const (
	MessageDownload = "download"
	MessageSaveAs   = "save-as"
)

// Message is a command posted by page script or the context menu.
type Message struct {
	Name string
	URL  string
}

// ParseMessage reads the "<name> <url>" text form.
func ParseMessage(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Message{}, fmt.Errorf("malformed message %q", line)
	}
	return Message{Name: strings.ToLower(fields[0]), URL: fields[1]}, nil
}

type messageAdapter struct{ s *Session }

// HandleMessage starts an active fetch for download and save-as messages.
// The transfer runs in the background; only malformed messages are errors.
func (a messageAdapter) HandleMessage(msg Message) error {
	var opts download.FetchOptions
	switch msg.Name {
	case MessageDownload:
	case MessageSaveAs:
		opts.Prompt = true
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Name)
	}
	u, err := url.Parse(msg.URL)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("invalid URL in %s message: %q", msg.Name, msg.URL)
	}
	if a.s.cfg.Downloads == nil {
		return ErrNoDownloads
	}
	a.s.log.Info().Str("op", "session/message").Msgf("%s %s", msg.Name, u)
	// downloads outlive the tab
	a.s.cfg.Downloads.Start(context.WithoutCancel(a.s.ctx), u.String(), opts)
	return nil
}
