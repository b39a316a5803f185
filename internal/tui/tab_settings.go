package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// settingDef describes one manual check setting. A setting with choices
// cycles through them; any other setting is an integer within [min, max].
type settingDef struct {
	key        string
	label      string
	help       string
	defaultVal string
	choices    []string
	min, max   int
}

func (d settingDef) isChoice() bool { return len(d.choices) > 0 }

func (d settingDef) validate(val string) error {
	if d.isChoice() {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s must be a number", d.label)
	}
	if n < d.min || n > d.max {
		return fmt.Errorf("%s must be between %d and %d", d.label, d.min, d.max)
	}
	return nil
}

// hint is the line shown under the selected setting.
func (d settingDef) hint() string {
	if d.isChoice() {
		return d.help + "  (enter or left/right to change)"
	}
	return fmt.Sprintf("%s  (enter to edit, %d..%d, default %s)", d.help, d.min, d.max, d.defaultVal)
}

var settingDefs = []settingDef{
	{key: "check_strategy", label: "Check Strategy", help: "How manual checks probe a target", defaultVal: "icmp", choices: []string{"icmp", "tcp"}},
	{key: "check_workers", label: "Check Workers", help: "Concurrent manual probes", defaultVal: "10", min: 1, max: 256},
	{key: "check_timeout", label: "Check Timeout", help: "Manual probe timeout (ms)", defaultVal: "2000", min: 100, max: 60000},
	{key: "check_port", label: "TCP Port", help: "Port dialed by the tcp strategy", defaultVal: "443", min: 1, max: 65535},
}

const settingLabelWidth = 18

type settingsModel struct {
	settings map[string]string
	selected int
	editing  bool
	editErr  string
	input    textinput.Model
	width    int
	height   int
}

func newSettingsModel() settingsModel {
	in := textinput.New()
	in.CharLimit = 8
	in.Prompt = ": "
	in.PromptStyle = lipgloss.NewStyle().Foreground(colorPurple)
	in.TextStyle = lipgloss.NewStyle().Foreground(colorFg)

	return settingsModel{
		settings: make(map[string]string),
		input:    in,
	}
}

func (sm *settingsModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.input.Width = w / 3
}

func (sm *settingsModel) setSettings(s map[string]string) {
	sm.settings = s
}

func (sm *settingsModel) value(def settingDef) string {
	if v, ok := sm.settings[def.key]; ok && v != "" {
		return v
	}
	return def.defaultVal
}

func (sm *settingsModel) store(root *Model, def settingDef, val string) tea.Cmd {
	sm.settings[def.key] = val
	return saveSetting(root.store, def.key, val)
}

func (sm *settingsModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	km, ok := msg.(tea.KeyMsg)
	if sm.editing {
		if ok {
			if cmd, handled := sm.handleEditKey(km, root); handled {
				return cmd
			}
		}
		var cmd tea.Cmd
		sm.input, cmd = sm.input.Update(msg)
		return cmd
	}
	if !ok {
		return nil
	}

	def := settingDefs[sm.selected]
	switch km.String() {
	case "up", "k":
		sm.selected = max(sm.selected-1, 0)
	case "down", "j":
		sm.selected = min(sm.selected+1, len(settingDefs)-1)
	case "left", "h":
		if def.isChoice() {
			return sm.cycle(root, def, -1)
		}
	case "right", "l":
		if def.isChoice() {
			return sm.cycle(root, def, 1)
		}
	case "enter":
		if def.isChoice() {
			return sm.cycle(root, def, 1)
		}
		sm.editing = true
		sm.editErr = ""
		sm.input.SetValue(sm.value(def))
		sm.input.CursorEnd()
		sm.input.Focus()
		return textinput.Blink
	}
	return nil
}

// handleEditKey reports whether km ended or rejected the edit.
func (sm *settingsModel) handleEditKey(km tea.KeyMsg, root *Model) (tea.Cmd, bool) {
	switch {
	case key.Matches(km, keys.Back):
		sm.closeEditor()
		return nil, true
	case km.String() == "enter":
		def := settingDefs[sm.selected]
		val := strings.TrimSpace(sm.input.Value())
		if err := def.validate(val); err != nil {
			sm.editErr = err.Error()
			root.setNotification(err.Error(), true)
			return nil, true
		}
		sm.closeEditor()
		return sm.store(root, def, val), true
	}
	return nil, false
}

func (sm *settingsModel) closeEditor() {
	sm.editing = false
	sm.editErr = ""
	sm.input.Blur()
}

func (sm *settingsModel) cycle(root *Model, def settingDef, step int) tea.Cmd {
	cur := 0
	for i, c := range def.choices {
		if c == sm.value(def) {
			cur = i
			break
		}
	}
	n := len(def.choices)
	return sm.store(root, def, def.choices[(cur+step+n)%n])
}

func (sm *settingsModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Manual Check Settings"))
	b.WriteString("\n\n")

	selLabel := lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Width(settingLabelWidth)
	label := lipgloss.NewStyle().Foreground(colorFg).Width(settingLabelWidth)
	dim := lipgloss.NewStyle().Foreground(colorDimFg)
	note := dim.PaddingLeft(4)

	for i, def := range settingDefs {
		val := sm.value(def)
		if i != sm.selected {
			b.WriteString(label.Render("  "+def.label) + dim.Render(val) + "\n")
			continue
		}

		row := selLabel.Render("> " + def.label)
		switch {
		case sm.editing:
			row += sm.input.View()
		case def.isChoice():
			row += renderChoices(def.choices, val)
		default:
			row += cardValueStyle.Render(val)
		}
		b.WriteString(row + "\n")

		switch {
		case sm.editErr != "":
			b.WriteString(errorStyle.PaddingLeft(4).Render(sm.editErr) + "\n")
		case !sm.editing:
			b.WriteString(note.Render(def.hint()) + "\n")
		}
	}

	return forceHeight(b.String(), sm.width, sm.height)
}

// renderChoices lays the options out side by side, bracketing the current one.
func renderChoices(choices []string, current string) string {
	on := lipgloss.NewStyle().Bold(true).Foreground(colorPurple)
	off := lipgloss.NewStyle().Foreground(colorDimFg)

	parts := make([]string, len(choices))
	for i, c := range choices {
		if c == current {
			parts[i] = on.Render("[" + c + "]")
		} else {
			parts[i] = off.Render(" " + c + " ")
		}
	}
	return strings.Join(parts, " ")
}
