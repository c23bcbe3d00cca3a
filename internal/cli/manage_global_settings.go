package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"thread-archiver/internal/config"
)

type manageFieldKind int

const (
	manageFieldString manageFieldKind = iota
	manageFieldInt
)

type manageFormField struct {
	Key   string
	Label string
	Help  string
	Kind  manageFieldKind
	Value string
}

type manageForm struct {
	Title  string
	Fields []manageFormField
	Index  int
	Input  textinput.Model
	Error  string
	Saving bool
}

func newSettingsForm(settings config.Settings, width int) *manageForm {
	f := &manageForm{
		Title: "Global Settings",
		Fields: []manageFormField{
			{Key: "output_root", Label: "Output Root", Help: "Directory holding backups and the progress ledger", Kind: manageFieldString, Value: settings.OutputRoot},
			{Key: "workers", Label: "Workers", Help: "Parallel asset downloads per page", Kind: manageFieldInt, Value: strconv.Itoa(settings.Workers)},
			{Key: "fetch_delay_ms", Label: "Fetch Delay (ms)", Help: "Politeness delay between page fetches", Kind: manageFieldInt, Value: strconv.Itoa(settings.FetchDelayMS)},
			{Key: "user_agent", Label: "User Agent", Help: "Sent on every page and asset request", Kind: manageFieldString, Value: settings.UserAgent},
			{Key: "proxy", Label: "Proxy", Help: "Optional proxy URL; empty disables", Kind: manageFieldString, Value: settings.Proxy},
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

func (f *manageForm) currentField() manageFormField {
	if len(f.Fields) == 0 {
		return manageFormField{}
	}
	if f.Index < 0 {
		f.Index = 0
	}
	if f.Index >= len(f.Fields) {
		f.Index = len(f.Fields) - 1
	}
	return f.Fields[f.Index]
}

func (f *manageForm) commitInput() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	f.Fields[f.Index].Value = strings.TrimSpace(f.Input.Value())
}

func (f *manageForm) loadFieldIntoInput() {
	if f == nil || len(f.Fields) == 0 {
		return
	}
	f.Input.SetValue(f.Fields[f.Index].Value)
	f.Input.CursorEnd()
}

func (f *manageForm) toSettings() (config.Settings, error) {
	if f == nil {
		return config.Settings{}, fmt.Errorf("internal form error")
	}
	vals := make(map[string]string, len(f.Fields))
	for _, field := range f.Fields {
		v := strings.TrimSpace(field.Value)
		if field.Kind == manageFieldInt {
			if v == "" {
				v = "0"
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return config.Settings{}, fmt.Errorf("%s must be an integer >= 0", strings.ToLower(field.Label))
			}
		}
		vals[field.Key] = v
	}

	workers, _ := strconv.Atoi(defaultIfEmpty(vals["workers"], "0"))
	if workers <= 0 {
		return config.Settings{}, fmt.Errorf("workers must be >= 1")
	}
	delay, _ := strconv.Atoi(defaultIfEmpty(vals["fetch_delay_ms"], "0"))
	if strings.TrimSpace(vals["output_root"]) == "" {
		return config.Settings{}, fmt.Errorf("output root is required")
	}

	return config.Settings{
		OutputRoot:   strings.TrimSpace(vals["output_root"]),
		Workers:      workers,
		FetchDelayMS: delay,
		UserAgent:    strings.TrimSpace(vals["user_agent"]),
		Proxy:        strings.TrimSpace(vals["proxy"]),
	}, nil
}

func saveSettingsCmd(configPath string, settings config.Settings) tea.Cmd {
	return func() tea.Msg {
		res, err := config.Update(config.UpdateOptions{ConfigPath: configPath, Settings: settings})
		if err != nil {
			return manageSaveMsg{err: err}
		}
		return manageSaveMsg{
			message: fmt.Sprintf(
				"updated settings: output_root=%s workers=%d delay=%dms",
				res.Settings.OutputRoot,
				res.Settings.Workers,
				res.Settings.FetchDelayMS,
			),
		}
	}
}
