package output

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tanq16/kestrel/internal/registry"
)

func TestManagerTracksOutcomes(t *testing.T) {
	var buf bytes.Buffer
	m := NewManagerTo(&buf)
	a := m.Register("https://a.test/x")
	b := m.Register("https://b.test/y")
	c := m.Register("https://c.test/z")

	assert.Equal(t, "pending", m.Status(a))
	m.Complete(a, "saved x")
	m.ReportError(b, errors.New("404"))
	m.Skip(c, "cancelled")
	m.Complete(b, "ignored after error")

	success, failures, total := m.Counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 3, total)
	assert.Equal(t, "error", m.Status(b))
	assert.Equal(t, "unknown", m.Status(99))

	m.ShowSummary()
	out := buf.String()
	assert.Contains(t, out, "saved x")
	assert.Contains(t, out, "Completed 1 of 3")
	assert.Contains(t, out, "Failed 1 of 3")
	assert.Contains(t, out, "https://b.test/y")
	assert.NotContains(t, out, "ignored after error")
}

func TestManagerConcurrentUse(t *testing.T) {
	m := NewManagerTo(&bytes.Buffer{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Complete(m.Register("job"), "")
		}()
	}
	wg.Wait()
	success, _, total := m.Counts()
	assert.Equal(t, 50, success)
	assert.Equal(t, 50, total)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "…/b/c.txt", Truncate("/very/long/a/b/c.txt", 9))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestRecordsTable(t *testing.T) {
	now := time.Now()
	out := RecordsTable([]registry.Record{
		{Name: "new.zip", Size: 2048, Path: "/dl/new.zip", CreatedAt: now.Add(-time.Minute)},
		{Name: "old.pdf", Size: 10, Path: "/dl/old.pdf", CreatedAt: now.Add(-time.Hour)},
	}, 120, now)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "new.zip")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "1 minute ago")
	assert.Less(t, bytes.Index([]byte(out), []byte("new.zip")), bytes.Index([]byte(out), []byte("old.pdf")))
}
