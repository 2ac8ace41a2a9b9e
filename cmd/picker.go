package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tanq16/kestrel/internal/output"
)

// promptPicker asks on the terminal where a download should be saved. An
// empty answer keeps the suggestion, "-" or end of input cancels. When the
// input is not a terminal, or auto is set, the suggestion is accepted.
type promptPicker struct {
	mu   sync.Mutex
	in   *bufio.Reader
	out  io.Writer
	auto bool
}

func newPromptPicker() *promptPicker {
	return &promptPicker{
		in:   bufio.NewReader(os.Stdin),
		out:  os.Stderr,
		auto: !term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// browsePicker picks where browse asks save-as questions. In interactive mode
// stdin carries commands, so prompts go to the controlling terminal instead;
// when stdin is that terminal, or there is none, the suggestion is accepted.
func browsePicker(interactive, stdinIsTerm bool, openTTY func() (io.ReadWriter, error)) *promptPicker {
	p := &promptPicker{in: bufio.NewReader(os.Stdin), out: os.Stderr}
	if !interactive {
		p.auto = !stdinIsTerm
		return p
	}
	if stdinIsTerm {
		p.auto = true
		return p
	}
	tty, err := openTTY()
	if err != nil {
		log.Debug().Str("op", "cmd/picker").Err(err).Msg("no terminal for save prompts, accepting suggestions")
		p.auto = true
		return p
	}
	p.in = bufio.NewReader(tty)
	p.out = tty
	return p
}

func openTTY() (io.ReadWriter, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}

func (p *promptPicker) PickSavePath(ctx context.Context, dir, suggested string) (string, bool, error) {
	def := filepath.Join(dir, suggested)
	if p.auto {
		return def, true, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	fmt.Fprintf(p.out, "%s %s ", output.FInfo("Save as"), output.FDebug("["+def+"]:"))
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	answer := strings.TrimSpace(line)
	switch {
	case errors.Is(err, io.EOF) && answer == "":
		return "", false, nil
	case answer == "-":
		return "", false, nil
	case answer == "":
		return def, true, nil
	}
	if strings.HasPrefix(answer, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			answer = filepath.Join(home, answer[2:])
		}
	}
	if !filepath.IsAbs(answer) {
		answer = filepath.Join(dir, answer)
	}
	return answer, true, nil
}
