// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/argonctl/pkg/config"
	"github.com/Thermoquad/argonctl/pkg/gateway"
	"github.com/Thermoquad/argonctl/pkg/hostio"
	"github.com/Thermoquad/argonctl/pkg/spindle"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	monitorRefresh = 100 * time.Millisecond
	speedStepRPS   = 1.0
	maxEventLines  = 8
)

// Focus states
const (
	focusNone = iota
	focusSpeedInput
	focusAngleInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

var monitorCmd = &cobra.Command{
	Use:   "monitor <device> <address>",
	Short: "Run the control loop with an interactive TUI",
	Long: `Run the spindle control loop with the host inputs driven from the keyboard.

Keys:
  o          toggle orient-enable
  up/+       raise spindle speed by 1 rps
  down/-     lower spindle speed by 1 rps
  s          stop (speed 0)
  tab        edit speed or orient angle, enter to apply, esc to cancel
  q          quit (commands zero velocity first)

The HTTP pin panel is also served when --listen is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addLoopFlags(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Logs go to the event panel while the TUI owns the terminal.
	events := newEventLog(100)
	logger = newEventLogger(cfg.Log, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, bus, err := openSession(ctx, args)
	if err != nil {
		return err
	}
	defer sess.Close()

	pins := hostio.NewPins()
	runner, err := newRunner(sess, pins, logger)
	if err != nil {
		return err
	}

	srv := startPinServer(cfg.HTTP.Listen, pins, logger, cancel)

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	m := newMonitorModel(pins, runner, events, fmt.Sprintf("%s @%d", sess.Device(), sess.Address()))
	if c, ok := bus.(*gateway.Client); ok {
		m.linkStats = c.Statistics()
	}
	m.cancel = cancel

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, tuiErr := p.Run()
	cancel()
	runErr := multierr.Append(<-done, srv.shutdown())
	if tuiErr != nil {
		return errors.Wrap(tuiErr, "TUI error")
	}
	return runErr
}

//////////////////////////////////////////////////////////////
// Event log
//////////////////////////////////////////////////////////////

type eventEntry struct {
	timestamp time.Time
	level     zapcore.Level
	message   string
}

// eventLog keeps the most recent log lines for the event panel.
type eventLog struct {
	mu      sync.Mutex
	entries []eventEntry
	max     int
}

func newEventLog(max int) *eventLog {
	return &eventLog{max: max}
}

func (l *eventLog) add(level zapcore.Level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, eventEntry{timestamp: time.Now(), level: level, message: message})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// tail returns up to n of the newest entries, oldest first.
func (l *eventLog) tail(n int) []eventEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]eventEntry(nil), l.entries[start:]...)
}

// eventCore is a zapcore.Core that renders entries with the console
// encoder into an eventLog.
type eventCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	log *eventLog
}

func (c *eventCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &eventCore{LevelEnabler: c.LevelEnabler, enc: enc, log: c.log}
}

func (c *eventCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *eventCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(e, fields)
	if err != nil {
		return err
	}
	c.log.add(e.Level, strings.TrimRight(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *eventCore) Sync() error { return nil }

// newEventLogger returns a logger feeding l at the configured level. An
// invalid level falls back to info.
func newEventLogger(c config.LogConfig, l *eventLog) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	enc := loggerEncoderConfig("console")
	enc.TimeKey = ""
	enc.LevelKey = ""
	enc.CallerKey = ""
	core := &eventCore{LevelEnabler: level, enc: zapcore.NewConsoleEncoder(enc), log: l}
	return zap.New(core).Sugar()
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	pins      *hostio.Pins
	runner    *spindle.Runner
	events    *eventLog
	linkStats *gateway.Statistics
	connInfo  string
	cancel    context.CancelFunc

	speedInput   textinput.Model
	angleInput   textinput.Model
	focusedField int

	width    int
	height   int
	quitting bool
}

type monitorTickMsg time.Time

func newMonitorModel(pins *hostio.Pins, runner *spindle.Runner, events *eventLog, connInfo string) monitorModel {
	speed := textinput.New()
	speed.Placeholder = "0"
	speed.CharLimit = 8
	speed.Width = 10

	angle := textinput.New()
	angle.Placeholder = "0"
	angle.CharLimit = 8
	angle.Width = 10

	return monitorModel{
		pins:       pins,
		runner:     runner,
		events:     events,
		connInfo:   connInfo,
		speedInput: speed,
		angleInput: angle,
		width:      80,
		height:     24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		if m.linkStats != nil {
			m.linkStats.CalculateRates()
		}
		return m, monitorTickCmd()
	}
	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m.quit()
	}

	if m.focusedField != focusNone {
		switch key {
		case "tab":
			m.setFocus((m.focusedField + 1) % focusCount)
			return m, nil
		case "esc":
			m.setFocus(focusNone)
			return m, nil
		case "enter":
			m.applyInput()
			m.setFocus(focusNone)
			return m, nil
		}
		var cmd tea.Cmd
		if m.focusedField == focusSpeedInput {
			m.speedInput, cmd = m.speedInput.Update(msg)
		} else {
			m.angleInput, cmd = m.angleInput.Update(msg)
		}
		return m, cmd
	}

	cmdIn := m.pins.Command()
	switch key {
	case "q":
		return m.quit()
	case "tab":
		m.setFocus(focusSpeedInput)
	case "o":
		m.pins.SetOrientEnable(!cmdIn.OrientEnable)
	case "up", "+", "k":
		m.pins.SetSpeedRPS(cmdIn.TargetVelocityRPS + speedStepRPS)
	case "down", "-", "j":
		m.pins.SetSpeedRPS(cmdIn.TargetVelocityRPS - speedStepRPS)
	case "s":
		m.pins.SetSpeedRPS(0)
	}
	return m, nil
}

func (m *monitorModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if m.cancel != nil {
		m.cancel()
	}
	return *m, tea.Quit
}

func (m *monitorModel) setFocus(f int) {
	m.focusedField = f
	m.speedInput.Blur()
	m.angleInput.Blur()
	switch f {
	case focusSpeedInput:
		m.speedInput.Focus()
	case focusAngleInput:
		m.angleInput.Focus()
	}
}

// applyInput copies the focused input to its pin. Bad numbers are reported
// in the event log and leave the pin unchanged.
func (m *monitorModel) applyInput() {
	input, pin := &m.speedInput, hostio.PinSpeedRPS
	if m.focusedField == focusAngleInput {
		input, pin = &m.angleInput, hostio.PinOrientAngle
	}
	text := strings.TrimSpace(input.Value())
	if text == "" {
		return
	}
	v, err := strconv.ParseFloat(text, 64)
	if err == nil {
		err = m.pins.Set(pin, v)
	}
	if err != nil {
		m.events.add(zapcore.ErrorLevel, fmt.Sprintf("invalid %s %q: %v", pin, text, err))
		return
	}
	m.events.add(zapcore.InfoLevel, fmt.Sprintf("%s = %g", pin, v))
	input.SetValue("")
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Stopping spindle...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("ARGONCTL MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit o=orient +/-=speed s=stop Tab=edit", m.connInfo)))
	s.WriteString("\n\n")

	leftWidth := 34
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}
	inputs := boxStyle.Width(leftWidth).Render(m.renderInputs())
	if m.focusedField != focusNone {
		inputs = focusedBoxStyle.Width(leftWidth).Render(m.renderInputs())
	}
	outputs := boxStyle.Width(rightWidth).Render(m.renderOutputs())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, inputs, " ", outputs))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")
	s.WriteString(m.renderEventLog())
	return s.String()
}

func (m monitorModel) renderInputs() string {
	in := m.pins.Command()
	var s strings.Builder
	s.WriteString(labelStyle.Render("INPUTS"))
	s.WriteString("\n")

	orient := headerStyle.Render("off")
	if in.OrientEnable {
		orient = warningStyle.Render("ON")
	}
	fmt.Fprintf(&s, "%s %s\n", labelStyle.Render("Orient:"), orient)

	fmt.Fprintf(&s, "%s ", labelStyle.Render("Speed: "))
	if m.focusedField == focusSpeedInput {
		s.WriteString(m.speedInput.View())
	} else {
		s.WriteString(valueStyle.Render(fmt.Sprintf("%.2f rps", in.TargetVelocityRPS)))
	}
	s.WriteString("\n")

	fmt.Fprintf(&s, "%s ", labelStyle.Render("Angle: "))
	if m.focusedField == focusAngleInput {
		s.WriteString(m.angleInput.View())
	} else {
		s.WriteString(valueStyle.Render(fmt.Sprintf("%.1f deg", in.TargetAngleDeg)))
	}
	return s.String()
}

func (m monitorModel) renderOutputs() string {
	snap := m.pins.Snapshot()
	state, _ := snap[hostio.PinState].(string)
	fbRPS, _ := snap[hostio.PinFeedbackRPS].(float64)
	fbRPM, _ := snap[hostio.PinFeedbackRPM].(float64)
	oriented, _ := snap[hostio.PinOriented].(bool)
	driveErr, _ := snap[hostio.PinDriveError].(bool)

	var s strings.Builder
	s.WriteString(labelStyle.Render("OUTPUTS"))
	s.WriteString("\n")
	fmt.Fprintf(&s, "%s %s\n", labelStyle.Render("State:   "), valueStyle.Render(state))
	fmt.Fprintf(&s, "%s %s\n", labelStyle.Render("Feedback:"),
		valueStyle.Render(fmt.Sprintf("%.2f rps  %.0f rpm", fbRPS, fbRPM)))

	orientedText := headerStyle.Render("no")
	if oriented {
		orientedText = valueStyle.Render("yes")
	}
	fmt.Fprintf(&s, "%s %s\n", labelStyle.Render("Oriented:"), orientedText)

	errText := valueStyle.Render("none")
	if driveErr {
		errText = errorStyle.Render("DRIVE ERROR")
	}
	fmt.Fprintf(&s, "%s %s", labelStyle.Render("Error:   "), errText)
	return s.String()
}

func (m monitorModel) renderStatisticsBar() string {
	st := m.runner.Stats()
	link := headerStyle.Render("connected")
	if st.Faulted.Load() {
		link = warningStyle.Render("RECONNECTING...")
	}
	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Ticks:"), valueStyle.Render(strconv.FormatUint(st.Ticks.Load(), 10)),
		labelStyle.Render("Errors:"), func() string {
			if n := st.Errors.Load(); n > 0 {
				return errorStyle.Render(strconv.FormatUint(n, 10))
			}
			return valueStyle.Render("0")
		}(),
		labelStyle.Render("Reconnects:"), valueStyle.Render(fmt.Sprintf("%d/%d",
			st.Reconnects.Load(), st.Reconnects.Load()+st.ReconnectFailures.Load())),
		labelStyle.Render("Link:"), link,
	)
	if m.linkStats != nil {
		c := m.linkStats.Snapshot()
		content += fmt.Sprintf("  %s %s  %s %s",
			labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f pkt/s", c.PacketRate)),
			labelStyle.Render("CRC/Timeouts:"), valueStyle.Render(fmt.Sprintf("%d/%d", c.CRCErrors, c.Timeouts)))
	}
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	entries := m.events.tail(maxEventLines)
	if len(entries) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range entries {
		icon, style := "i", warningStyle
		if entry.level >= zapcore.ErrorLevel {
			icon, style = "x", errorStyle
		}
		fmt.Fprintf(&s, "%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message)
	}
	return boxStyle.Width(m.width - 4).Render(s.String())
}
