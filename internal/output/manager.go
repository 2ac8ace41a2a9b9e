package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Task is one line of work tracked by the Manager, usually a URL.
type Task struct {
	ID        int
	Label     string
	Status    string
	Message   string
	Complete  bool
	StartTime time.Time
	EndTime   time.Time
	Error     error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager prints one status line per finished task and a summary at the end.
// It is safe for concurrent use by workers.
type Manager struct {
	mu     sync.Mutex
	out    io.Writer
	tasks  map[int]*Task
	errors []ErrorReport
	nextID int
}

func NewManager() *Manager {
	return NewManagerTo(os.Stdout)
}

func NewManagerTo(w io.Writer) *Manager {
	return &Manager{out: w, tasks: make(map[int]*Task)}
}

func (m *Manager) Register(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.tasks[m.nextID] = &Task{
		ID:        m.nextID,
		Label:     label,
		Status:    "pending",
		StartTime: time.Now(),
	}
	return m.nextID
}

func (m *Manager) SetMessage(id int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.Message = message
	}
}

func (m *Manager) Status(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.Status
	}
	return "unknown"
}

func (m *Manager) Complete(id int, message string) {
	m.finish(id, "success", message, nil)
}

// Skip marks a task that ended without a result and without failing, such as
// a cancelled save prompt.
func (m *Manager) Skip(id int, message string) {
	m.finish(id, "warning", message, nil)
}

func (m *Manager) ReportError(id int, err error) {
	m.finish(id, "error", err.Error(), err)
}

func (m *Manager) finish(id int, status, message string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Complete {
		return
	}
	t.Complete = true
	t.Status = status
	t.EndTime = time.Now()
	if message == "" {
		message = fmt.Sprintf("Completed %s", t.Label)
	}
	t.Message = message
	if err != nil {
		t.Error = err
		m.errors = append(m.errors, ErrorReport{Label: t.Label, Error: err, Time: t.EndTime})
	}
	took := t.EndTime.Sub(t.StartTime).Round(time.Millisecond)
	fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", 2), StatusIndicator(status),
		debugStyle.Render(took.String()), styleFor(status).Render(message))
}

func StatusIndicator(status string) string {
	switch status {
	case "success", "pass":
		return successStyle.Render(StyleSymbols["pass"])
	case "error", "fail":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleFor(status string) lipgloss.Style {
	switch status {
	case "success":
		return successStyle
	case "error":
		return errorStyle
	case "warning":
		return warningStyle
	default:
		return pendingStyle
	}
}

// Counts returns the number of succeeded and failed tasks.
func (m *Manager) Counts() (success, failures, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		switch t.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	return success, failures, len(m.tasks)
}

func (m *Manager) ShowSummary() {
	success, failures, total := m.Counts()
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	reports := append([]ErrorReport(nil), m.errors...)
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Time.Before(reports[j].Time) })
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, r := range reports {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", r.Time.Format("15:04:05"))),
			errorStyle.Render(r.Label))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", r.Error)))
	}
}
