package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dockrun/internal/config"
)

type formFieldKind int

const (
	formFieldString formFieldKind = iota
	formFieldInt
	formFieldBool
	formFieldDuration
	formFieldVector
)

type formField struct {
	Key      string
	Label    string
	Help     string
	Kind     formFieldKind
	Value    string
	Required bool
}

type wizardForm struct {
	Title  string
	Fields []formField
	Index  int
	Input  textinput.Model
	Error  string
}

type initModel struct {
	cfg       config.Config
	form      *wizardForm
	width     int
	saved     bool
	cancelled bool
}

var panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

func newInitModel(cfg config.Config, width int) initModel {
	return initModel{cfg: cfg, form: newInitForm(cfg, width), width: width}
}

func newInitForm(cfg config.Config, width int) *wizardForm {
	d := cfg.Docking
	f := &wizardForm{
		Title: "dockrun config",
		Fields: []formField{
			{Key: "input_dir", Label: "Ligand directory", Help: "Searched recursively for .sdf and .pdbqt files", Kind: formFieldString, Value: cfg.InputDir, Required: true},
			{Key: "output_dir", Label: "Output directory", Help: "Results, logs and the failure log go here", Kind: formFieldString, Value: cfg.OutputDir, Required: true},
			{Key: "receptor", Label: "Receptor", Help: "Prepared receptor file (.pdbqt)", Kind: formFieldString, Value: d.Receptor, Required: true},
			{Key: "executable", Label: "Tool executable", Help: "Name on PATH or absolute path", Kind: formFieldString, Value: cfg.Tool.Executable, Required: true},
			{Key: "center", Label: "Box center", Help: "x, y, z in angstrom", Kind: formFieldVector, Value: formatVector(d.Center), Required: true},
			{Key: "size", Label: "Box size", Help: "x, y, z in angstrom", Kind: formFieldVector, Value: formatVector(d.Size), Required: true},
			{Key: "chunk_size", Label: "Chunk size", Help: "Ligands per tool invocation", Kind: formFieldInt, Value: strconv.Itoa(cfg.Run.ChunkSize), Required: true},
			{Key: "timeout", Label: "Timeout per chunk", Help: "e.g. 10h or 90m", Kind: formFieldDuration, Value: cfg.Run.Timeout.Std().String(), Required: true},
			{Key: "gen_conf", Label: "Generate conformers", Help: "Pass --gen_conf to the tool", Kind: formFieldBool, Value: boolToYN(d.GenConf)},
		},
	}

	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 1024
	input.Width = clampInt(width-8, 20, 120)
	f.Input = input
	f.loadFieldIntoInput()
	f.Input.Focus()
	return f
}

func (m initModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.form.Input.Width = clampInt(msg.Width-8, 20, 120)
		return m, nil
	case tea.KeyMsg:
		return m.updateForm(msg)
	}
	return m, nil
}

func (m initModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := strings.ToLower(msg.String())
	switch key {
	case "ctrl+c", "esc":
		m.cancelled = true
		return m, tea.Quit
	case "up", "shift+tab":
		m.form.commitInput()
		if m.form.Index > 0 {
			m.form.Index--
		}
		m.form.loadFieldIntoInput()
		return m, nil
	case "down", "tab":
		m.form.commitInput()
		if m.form.Index < len(m.form.Fields)-1 {
			m.form.Index++
		}
		m.form.loadFieldIntoInput()
		return m, nil
	case " ", "space", "left", "right":
		if m.form.currentField().Kind == formFieldBool {
			m.form.toggleBoolField()
			return m, nil
		}
	case "y", "n":
		if m.form.currentField().Kind == formFieldBool {
			m.form.setBoolField(key == "y")
			return m, nil
		}
	case "enter", "ctrl+s":
		m.form.commitInput()
		if m.form.Index < len(m.form.Fields)-1 && key != "ctrl+s" {
			m.form.Index++
			m.form.loadFieldIntoInput()
			return m, nil
		}
		cfg, err := m.form.apply(m.cfg)
		if err != nil {
			m.form.Error = err.Error()
			return m, nil
		}
		m.form.Error = ""
		m.cfg = cfg
		m.saved = true
		return m, tea.Quit
	}

	if m.form.currentField().Kind == formFieldBool {
		return m, nil
	}
	var cmd tea.Cmd
	m.form.Input, cmd = m.form.Input.Update(msg)
	m.form.Fields[m.form.Index].Value = m.form.Input.Value()
	return m, cmd
}

func (m initModel) View() string {
	if m.saved || m.cancelled {
		return ""
	}
	f := m.form
	header := titleStyle.Render(f.Title)
	hints := mutedStyle.Render("tab/shift+tab or up/down: move | space/y/n: toggle | enter: next/save | ctrl+s: save | esc: cancel")

	lines := make([]string, 0, len(f.Fields))
	for i, field := range f.Fields {
		prefix := "  "
		if i == f.Index {
			prefix = "> "
		}
		display := strings.TrimSpace(field.Value)
		if field.Kind == formFieldBool {
			v, _ := parseBool(display)
			display = yesNo(v)
		}
		if display == "" {
			display = mutedStyle.Render("(empty)")
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", prefix, field.Label, display))
	}

	curr := f.currentField()
	body := strings.Join(lines, "\n") + "\n\n" + curr.Label + "\n"
	if curr.Help != "" {
		body += mutedStyle.Render(curr.Help) + "\n"
	}
	body += f.Input.View()
	if f.Error != "" {
		body += "\n" + errorStyle.Render(f.Error)
	}
	panel := panelStyle.Width(max(m.width-4, 40)).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, header, hints, panel)
}

func (f *wizardForm) currentField() formField {
	if len(f.Fields) == 0 {
		return formField{}
	}
	f.Index = clampInt(f.Index, 0, len(f.Fields)-1)
	return f.Fields[f.Index]
}

func (f *wizardForm) commitInput() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	if f.Fields[f.Index].Kind == formFieldBool {
		return
	}
	f.Fields[f.Index].Value = strings.TrimSpace(f.Input.Value())
}

func (f *wizardForm) loadFieldIntoInput() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	f.Input.SetValue(f.Fields[f.Index].Value)
	f.Input.CursorEnd()
}

func (f *wizardForm) toggleBoolField() {
	v, _ := parseBool(f.Fields[f.Index].Value)
	f.setBoolField(!v)
}

func (f *wizardForm) setBoolField(v bool) {
	if f.Fields[f.Index].Kind != formFieldBool {
		return
	}
	f.Fields[f.Index].Value = boolToYN(v)
	f.loadFieldIntoInput()
}

// apply validates the form values and writes them onto a copy of cfg.
func (f *wizardForm) apply(cfg config.Config) (config.Config, error) {
	if f == nil {
		return cfg, errors.New("internal form error")
	}
	for _, field := range f.Fields {
		v := strings.TrimSpace(field.Value)
		if field.Required && v == "" {
			return cfg, fmt.Errorf("%s is required", strings.ToLower(field.Label))
		}
		switch field.Key {
		case "input_dir":
			cfg.InputDir = v
		case "output_dir":
			cfg.OutputDir = v
		case "receptor":
			cfg.Docking.Receptor = v
		case "executable":
			cfg.Tool.Executable = v
		case "center", "size":
			vec, err := parseVector(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", strings.ToLower(field.Label), err)
			}
			if field.Key == "center" {
				cfg.Docking.Center = vec
			} else {
				cfg.Docking.Size = vec
			}
		case "chunk_size":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return cfg, fmt.Errorf("chunk size must be a positive integer, got %q", v)
			}
			cfg.Run.ChunkSize = n
		case "timeout":
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return cfg, fmt.Errorf("timeout must be a positive duration like 10h, got %q", v)
			}
			cfg.Run.Timeout = config.Duration(d)
		case "gen_conf":
			b, ok := parseBool(v)
			if !ok {
				return cfg, fmt.Errorf("generate conformers must be y or n, got %q", v)
			}
			cfg.Docking.GenConf = b
		}
	}
	return cfg, nil
}

func parseVector(raw string) ([]float64, error) {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(parts) != 3 {
		return nil, fmt.Errorf("need 3 numbers, got %d", len(parts))
	}
	out := make([]float64, 0, 3)
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func formatVector(v []float64) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, strconv.FormatFloat(x, 'f', -1, 64))
	}
	return strings.Join(parts, ", ")
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "true", "1":
		return true, true
	case "n", "no", "false", "0", "":
		return false, true
	default:
		return false, false
	}
}

func boolToYN(v bool) string {
	if v {
		return "y"
	}
	return "n"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func clampInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
