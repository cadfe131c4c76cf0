package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/gsclone/internal/progress"
	"github.com/imamik/gsclone/internal/provisioning"
	"github.com/imamik/gsclone/internal/ui/benchmarks"
	"github.com/imamik/gsclone/internal/workflow"
)

// stepNames are the display names of workflow steps.
var stepNames = map[workflow.Step]string{
	workflow.StepAdmission:          "Admission",
	workflow.StepAddressCheck:       "Address Check",
	workflow.StepCloning:            "Clone",
	workflow.StepAddressReservation: "DHCP Reservation",
	workflow.StepPlacement:          "Placement",
	workflow.StepStart:              "Start",
	workflow.StepWorldReset:         "World Reset",
	workflow.StepProxyRegistration:  "Proxy Registration",
	workflow.StepFinalize:           "Finalize",
}

// StepRow is one workflow step for display.
type StepRow struct {
	Step    workflow.Step
	Name    string
	Done    bool
	Active  bool
	Skipped bool
	Warning string
	Err     string
}

// Model is the Bubble Tea model for the provisioning view.
type Model struct {
	// Request info
	GuestName string
	Source    int
	Mode      string // "provision", "resume"

	Steps []StepRow

	// Live state
	GuestID     int
	Status      workflow.Status
	CurrentStep workflow.Step
	Percent     int
	Message     string
	Outcome     *provisioning.Outcome

	// ETA
	History            []benchmarks.StepRecord
	EstimatedRemaining time.Duration
	PerformanceScale   float64
	StartTime          time.Time

	// Animation
	SpinnerFrame int

	// UI state
	Width  int
	Height int
	Err    error
	Done   bool

	now func() time.Time
}

// NewProvisionModel creates a model for the provision command.
func NewProvisionModel(name string, source int) Model {
	return newModel(name, source, "provision")
}

// NewResumeModel creates a model for the resume command.
func NewResumeModel(guestID int) Model {
	m := newModel(fmt.Sprintf("guest %d", guestID), 0, "resume")
	m.GuestID = guestID
	return m
}

func newModel(name string, source int, mode string) Model {
	m := Model{
		GuestName:        name,
		Source:           source,
		Mode:             mode,
		StartTime:        time.Now(),
		PerformanceScale: 1.0,
		now:              time.Now,
	}
	for _, step := range workflow.Steps() {
		m.Steps = append(m.Steps, StepRow{Step: step, Name: stepNames[step]})
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case ProgressMsg:
		m.applyEntry(msg.Entry)

	case TickMsg:
		m.SpinnerFrame++
		m.updateETA()
		return m, tickCmd()

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit

	case DoneMsg:
		m.applyOutcome(msg.Outcome, msg.Err)
		m.Done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) stepIndex(step workflow.Step) int {
	for i, row := range m.Steps {
		if row.Step == step {
			return i
		}
	}
	return -1
}

// applyEntry moves the step list to the snapshot's step.
func (m *Model) applyEntry(e progress.Entry) {
	if e.GuestID != 0 {
		m.GuestID = e.GuestID
	}
	m.Status = e.Status
	m.Message = e.Message
	m.Percent = max(m.Percent, e.ProgressPercent)

	if e.CurrentStep != m.CurrentStep {
		m.recordStepChange(e.CurrentStep)
	}
	m.CurrentStep = e.CurrentStep

	idx := m.stepIndex(e.CurrentStep)
	if idx < 0 {
		return
	}
	for i := range m.Steps[:idx] {
		m.Steps[i].Active = false
		m.Steps[i].Done = true
	}
	row := &m.Steps[idx]
	switch e.Status {
	case workflow.StatusFailed, workflow.StatusPaused:
		row.Active = false
		row.Err = e.Message
	case workflow.StatusCompleted:
		row.Active = false
		row.Done = true
	default:
		row.Active = true
		row.Err = ""
	}
}

func (m *Model) recordStepChange(step workflow.Step) {
	now := m.now()
	if n := len(m.History); n > 0 && m.History[n-1].EndedAt == nil {
		m.History[n-1].EndedAt = &now
	}
	m.History = append(m.History, benchmarks.StepRecord{Step: step, StartedAt: now})
}

// applyOutcome marks the final state of every step.
func (m *Model) applyOutcome(out *provisioning.Outcome, err error) {
	m.Err = err
	if out == nil {
		return
	}
	m.Outcome = out
	if out.GuestID != 0 {
		m.GuestID = out.GuestID
	}
	if out.Status != "" {
		m.Status = out.Status
	}
	if out.Step != "" {
		m.CurrentStep = out.Step
	}
	if out.Status == workflow.StatusCompleted {
		m.Percent = 100
		for i := range m.Steps {
			m.Steps[i].Active = false
			m.Steps[i].Done = true
		}
		skipped := map[workflow.Step]bool{
			workflow.StepAddressReservation: !out.Steps.AddressReserved,
			workflow.StepPlacement:          !out.Steps.Migrated,
			workflow.StepWorldReset:         !out.Steps.WorldConfigured,
			workflow.StepProxyRegistration:  !out.Steps.ProxyRegistered,
		}
		for i, row := range m.Steps {
			m.Steps[i].Skipped = skipped[row.Step]
		}
	} else if idx := m.stepIndex(out.Step); idx >= 0 && err != nil {
		m.Steps[idx].Active = false
		m.Steps[idx].Err = out.Message
		if m.Steps[idx].Err == "" {
			m.Steps[idx].Err = err.Error()
		}
	}
	for _, w := range out.Warnings {
		if idx := m.stepIndex(w.Step); idx >= 0 {
			m.Steps[idx].Warning = w.Message
			m.Steps[idx].Skipped = false
		}
	}
}

func (m *Model) updateETA() {
	if m.CurrentStep == "" || m.Status != workflow.StatusInProgress {
		m.EstimatedRemaining = 0
		return
	}

	var stepElapsed time.Duration
	if n := len(m.History); n > 0 && m.History[n-1].EndedAt == nil {
		stepElapsed = m.now().Sub(m.History[n-1].StartedAt)
	}

	m.PerformanceScale = benchmarks.PerformanceScale(m.CurrentStep, stepElapsed, m.History)
	m.EstimatedRemaining = benchmarks.EstimateRemainingWithScale(m.CurrentStep, stepElapsed, m.History, m.PerformanceScale)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
