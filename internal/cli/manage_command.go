package cli

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"thread-archiver/internal/catalog"
	"thread-archiver/internal/config"
	"thread-archiver/internal/ledger"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type manageMode int

const (
	manageModeBrowse manageMode = iota
	manageModeFilter
	manageModeForm
	manageModeDeleteConfirm
)

const (
	manageLaunchNone = ""
	// Launch values map straight onto archive subcommand flags after the TUI
	// exits; the TUI itself never scrapes.
	manageLaunchCheckUpdates = "check-updates"
	manageLaunchRetryFailed  = "retry-failed"
)

type manageModel struct {
	configPath string
	outputRoot string

	rows     []catalog.StatusItem
	settings config.Settings

	filterInput   textinput.Model
	filterQuery   string
	visible       []int // indices into rows after filtering
	cursor        int   // position within visible rows + actions
	width         int
	height        int
	mode          manageMode
	form          *manageForm
	statusMessage string

	confirmDeleteURL string
	launchAction     string
	launchURL        string
	fatalErr         error
}

type manageLoadedMsg struct {
	rows     []catalog.StatusItem
	settings config.Settings
	err      error
}

type manageSaveMsg struct {
	message string
	err     error
}

type manageDeleteMsg struct {
	message string
	err     error
}

var (
	manageTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	manageMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	manageErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	manageOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	managePanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	manageSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func runManage(args []string) error {
	fs := flag.NewFlagSet("manage", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	output := fs.String("output", "", "output root directory (default: settings output_root)")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("manage requires an interactive terminal (TTY)")
	}

	outputRoot, err := resolveOutputRoot(*output, *configPath)
	if err != nil {
		return err
	}

	input := textinput.New()
	input.Prompt = "/ "
	input.CharLimit = 256

	m := manageModel{
		configPath:  config.NormalizePath(*configPath),
		outputRoot:  outputRoot,
		filterInput: input,
		mode:        manageModeBrowse,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("manage requires an interactive terminal (TTY)")
		}
		return err
	}
	fm, ok := finalModel.(manageModel)
	if !ok {
		return nil
	}
	if fm.fatalErr != nil {
		return fm.fatalErr
	}

	switch fm.launchAction {
	case manageLaunchCheckUpdates:
		launchArgs := []string{"--check-updates", "--config", fm.configPath, "--output", fm.outputRoot}
		if fm.launchURL != "" {
			fmt.Printf("check updates: %s\n", fm.launchURL)
			launchArgs = append(launchArgs, fm.launchURL)
		} else {
			fmt.Println("check updates: all tracked threads")
		}
		return runArchive(launchArgs)
	case manageLaunchRetryFailed:
		fmt.Println("retry failed assets: all tracked threads")
		return runArchive([]string{"--retry-failed", "--config", fm.configPath, "--output", fm.outputRoot})
	}
	return nil
}

func (m manageModel) Init() tea.Cmd {
	return loadThreadsCmd(m.configPath, m.outputRoot)
}

func (m manageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.form != nil {
			m.form.Input.Width = clampInt(m.width-8, 20, 120)
		}
		return m, nil
	case manageLoadedMsg:
		if msg.err != nil {
			m.fatalErr = msg.err
			return m, tea.Quit
		}
		m.rows = msg.rows
		m.settings = msg.settings
		m.applyFilter()
		return m, nil
	case manageSaveMsg:
		if msg.err != nil {
			if m.form != nil {
				m.form.Error = msg.err.Error()
				m.form.Saving = false
			}
			return m, nil
		}
		m.mode = manageModeBrowse
		m.form = nil
		m.statusMessage = msg.message
		return m, loadThreadsCmd(m.configPath, m.outputRoot)
	case manageDeleteMsg:
		m.mode = manageModeBrowse
		m.confirmDeleteURL = ""
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		m.statusMessage = msg.message
		return m, loadThreadsCmd(m.configPath, m.outputRoot)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch m.mode {
	case manageModeBrowse:
		return m.updateBrowse(keyMsg)
	case manageModeFilter:
		return m.updateFilter(keyMsg)
	case manageModeForm:
		return m.updateForm(keyMsg)
	case manageModeDeleteConfirm:
		return m.updateDeleteConfirm(keyMsg)
	default:
		return m, nil
	}
}

func (m manageModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	total := m.totalBrowseRows()
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < total-1 {
			m.cursor++
		}
		return m, nil
	case "/":
		m.mode = manageModeFilter
		m.filterInput.SetValue(m.filterQuery)
		m.filterInput.CursorEnd()
		m.filterInput.Focus()
		return m, nil
	case "r":
		return m, loadThreadsCmd(m.configPath, m.outputRoot)
	case "u":
		row, ok := m.selectedThread()
		if !ok {
			m.statusMessage = "select a thread to check for updates"
			return m, nil
		}
		m.launchAction = manageLaunchCheckUpdates
		m.launchURL = row.URL
		m.statusMessage = "check updates: launching..."
		return m, tea.Quit
	case "d":
		row, ok := m.selectedThread()
		if !ok {
			m.statusMessage = "select a thread to delete"
			return m, nil
		}
		m.mode = manageModeDeleteConfirm
		m.confirmDeleteURL = row.URL
		return m, nil
	case "esc":
		if m.filterQuery != "" {
			m.filterQuery = ""
			m.applyFilter()
			m.statusMessage = "filter cleared"
		}
		return m, nil
	case "enter", "e":
		if !m.isActionCursor() {
			return m, nil
		}
		switch m.selectedActionIndex() {
		case manageActionCheckUpdates:
			m.launchAction = manageLaunchCheckUpdates
			m.launchURL = ""
			m.statusMessage = "check updates: launching..."
			return m, tea.Quit
		case manageActionRetryFailed:
			m.launchAction = manageLaunchRetryFailed
			m.statusMessage = "retry failed assets: launching..."
			return m, tea.Quit
		case manageActionGlobalSettings:
			m.mode = manageModeForm
			m.form = newSettingsForm(m.settings, m.width)
			m.statusMessage = ""
			return m, nil
		}
		return m, nil
	}
	return m, nil
}

func (m manageModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.mode = manageModeBrowse
		m.filterInput.Blur()
		return m, nil
	case "enter":
		m.mode = manageModeBrowse
		m.filterQuery = strings.TrimSpace(m.filterInput.Value())
		m.filterInput.Blur()
		m.applyFilter()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.filterQuery = strings.TrimSpace(m.filterInput.Value())
	m.applyFilter()
	return m, cmd
}

func (m manageModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form == nil {
		m.mode = manageModeBrowse
		return m, nil
	}
	if m.form.Saving {
		return m, nil
	}

	key := strings.ToLower(msg.String())
	switch key {
	case "ctrl+c", "esc":
		m.mode = manageModeBrowse
		m.form = nil
		m.statusMessage = "settings unchanged"
		return m, nil
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
	case "enter", "ctrl+s":
		m.form.commitInput()
		if m.form.Index < len(m.form.Fields)-1 && key != "ctrl+s" {
			m.form.Index++
			m.form.loadFieldIntoInput()
			return m, nil
		}
		settings, err := m.form.toSettings()
		if err != nil {
			m.form.Error = err.Error()
			return m, nil
		}
		m.form.Error = ""
		m.form.Saving = true
		return m, saveSettingsCmd(m.configPath, settings)
	}

	var cmd tea.Cmd
	m.form.Input, cmd = m.form.Input.Update(msg)
	m.form.Fields[m.form.Index].Value = m.form.Input.Value()
	return m, cmd
}

func (m manageModel) updateDeleteConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "n":
		m.mode = manageModeBrowse
		m.confirmDeleteURL = ""
		m.statusMessage = "delete cancelled"
		return m, nil
	case "y", "enter":
		url := strings.TrimSpace(m.confirmDeleteURL)
		if url == "" {
			m.mode = manageModeBrowse
			m.statusMessage = "delete cancelled"
			return m, nil
		}
		return m, forgetThreadCmd(m.outputRoot, url)
	}
	return m, nil
}

func (m manageModel) View() string {
	if m.fatalErr != nil {
		return manageErrorStyle.Render("fatal: " + m.fatalErr.Error())
	}
	if m.width <= 0 {
		m.width = 100
	}
	if m.height <= 0 {
		m.height = 30
	}

	switch m.mode {
	case manageModeForm:
		return m.viewForm()
	case manageModeDeleteConfirm:
		return m.viewDeleteConfirm()
	default:
		return m.viewBrowse()
	}
}

func (m manageModel) viewBrowse() string {
	header := manageTitleStyle.Render("thread-archiver manage") + "\n" +
		manageMutedStyle.Render("up/down: move | /: filter | u: check updates | d: forget | r: refresh | enter: run action | q: quit")

	if m.width < 90 {
		list := m.renderListPanel(m.width)
		actions := m.renderActionsPanel(m.width)
		details := m.renderDetailsPanel(m.width)
		body := lipgloss.JoinVertical(lipgloss.Left, list, actions, details)
		return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusLine(m.width))
	}

	leftW := clampInt(m.width/2, 34, 60)
	rightW := m.width - leftW - 1
	list := m.renderListPanel(leftW)
	actions := m.renderActionsPanel(leftW)
	left := lipgloss.JoinVertical(lipgloss.Left, list, actions)
	right := m.renderDetailsPanel(rightW)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusLine(m.width))
}

func (m manageModel) renderListPanel(width int) string {
	total := len(m.visible)
	maxRows := clampInt(m.height-14, 4, 18)
	listCursor := m.cursor
	if listCursor >= total {
		listCursor = maxInt(total-1, 0)
	}
	start, end := listWindow(total, listCursor, maxRows)

	lines := make([]string, 0, maxRows+4)
	if m.mode == manageModeFilter {
		lines = append(lines, m.filterInput.View())
	} else if m.filterQuery != "" {
		lines = append(lines, manageMutedStyle.Render(fmt.Sprintf("filter: %s (%d/%d shown, esc clears)", m.filterQuery, total, len(m.rows))))
	}
	if len(m.rows) == 0 {
		lines = append(lines, manageMutedStyle.Render("No threads tracked yet."))
		lines = append(lines, manageMutedStyle.Render("Run: thread-archiver archive <thread-url>"))
	} else if total == 0 {
		lines = append(lines, manageMutedStyle.Render("No thread matches the filter."))
	}
	if start > 0 {
		lines = append(lines, manageMutedStyle.Render("..."))
	}
	for i := start; i < end; i++ {
		row := m.rows[m.visible[i]]
		name := defaultIfEmpty(row.FriendlyName, row.URL)
		line := fmt.Sprintf("[%s] %s", stateMark(row.State), name)
		line = truncateRunes(line, maxInt(width-6, 10))
		if i == m.cursor && m.mode != manageModeFilter {
			line = manageSelStyle.Width(maxInt(width-4, 6)).Render(line)
		}
		lines = append(lines, line)
	}
	if end < total {
		lines = append(lines, manageMutedStyle.Render("..."))
	}

	return managePanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m manageModel) renderDetailsPanel(width int) string {
	lines := []string{}
	if m.isActionCursor() {
		lines = append(lines, "Action")
		lines = append(lines, "")
		switch m.selectedActionIndex() {
		case manageActionCheckUpdates:
			lines = append(lines, "Check Updates (all threads)")
			lines = append(lines, "")
			lines = append(lines, "Re-checks every tracked thread for new pages.")
			lines = append(lines, "Press Enter to launch.")
		case manageActionRetryFailed:
			lines = append(lines, "Retry Failed Assets")
			lines = append(lines, "")
			lines = append(lines, "Re-attempts every asset that failed to download.")
			lines = append(lines, "Press Enter to launch.")
		case manageActionGlobalSettings:
			lines = append(lines, "Global Settings")
			lines = append(lines, kv("output_root", m.settings.OutputRoot))
			lines = append(lines, kv("workers", strconv.Itoa(m.settings.Workers)))
			lines = append(lines, kv("fetch_delay_ms", strconv.Itoa(m.settings.FetchDelayMS)))
			lines = append(lines, kv("proxy", defaultIfEmpty(m.settings.Proxy, "(none)")))
			lines = append(lines, "")
			lines = append(lines, "Press Enter to edit.")
		}
	} else if row, ok := m.selectedThread(); ok {
		lines = append(lines, "Thread Details")
		lines = append(lines, "")
		lines = append(lines, kv("name", defaultIfEmpty(row.FriendlyName, "(no metadata)")))
		lines = append(lines, kv("url", row.URL))
		lines = append(lines, kv("state", row.State))
		lines = append(lines, kv("status", row.Status))
		lines = append(lines, kv("pages", fmt.Sprintf("%d/%d", row.CompletedPages, row.TotalPages)))
		lines = append(lines, kv("failed_assets", strconv.Itoa(row.FailedAssets)))
		if row.FormatVersion > 0 {
			lines = append(lines, kv("format_version", strconv.Itoa(row.FormatVersion)))
		}
		if row.SizeBytes > 0 {
			lines = append(lines, kv("size", formatBytesIEC(row.SizeBytes)))
		}
		lines = append(lines, kv("backup", row.BackupPath))
		if row.LastRun != "" {
			lines = append(lines, kv("last_run", row.LastRun))
		}
		lines = append(lines, "")
		lines = append(lines, "u: check updates for this thread on exit")
	} else {
		lines = append(lines, "No thread selected")
		lines = append(lines, "")
		lines = append(lines, "Archive a thread first, then manage it here.")
	}

	for i := range lines {
		lines[i] = wrapOrTrim(lines[i], maxInt(width-6, 12))
	}
	return managePanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m manageModel) renderStatusLine(width int) string {
	msg := strings.TrimSpace(m.statusMessage)
	if msg == "" {
		msg = "Tip: / filters by name or URL; d forgets a thread record without touching its files."
	}
	style := manageMutedStyle
	if strings.HasPrefix(strings.ToLower(msg), "error:") {
		style = manageErrorStyle
	} else if strings.HasPrefix(strings.ToLower(msg), "updated") || strings.HasPrefix(strings.ToLower(msg), "forgot") {
		style = manageOKStyle
	}
	return style.Width(width).Render(truncateRunes(msg, maxInt(width-2, 10)))
}

func (m manageModel) viewForm() string {
	if m.form == nil {
		return ""
	}
	header := manageTitleStyle.Render(m.form.Title)
	hints := manageMutedStyle.Render("tab/shift+tab or up/down: move | enter: next/save | ctrl+s: save | esc: cancel")

	lines := make([]string, 0, len(m.form.Fields)+6)
	for i, f := range m.form.Fields {
		prefix := "  "
		if i == m.form.Index {
			prefix = "> "
		}
		display := strings.TrimSpace(f.Value)
		if display == "" {
			display = manageMutedStyle.Render("(empty)")
		}
		line := fmt.Sprintf("%s%s: %s", prefix, f.Label, display)
		lines = append(lines, wrapOrTrim(line, maxInt(m.width-6, 20)))
	}

	curr := m.form.currentField()
	inputLabel := fmt.Sprintf("\n%s\n", curr.Label)
	inputHelp := ""
	if strings.TrimSpace(curr.Help) != "" {
		inputHelp = manageMutedStyle.Render(curr.Help) + "\n"
	}
	status := ""
	if m.form.Saving {
		status = manageMutedStyle.Render("\nSaving...")
	}
	if strings.TrimSpace(m.form.Error) != "" {
		status = "\n" + manageErrorStyle.Render(m.form.Error)
	}

	panel := managePanelStyle.Width(maxInt(m.width, 40)).Render(strings.Join(lines, "\n") + inputLabel + inputHelp + m.form.Input.View() + status)
	return lipgloss.JoinVertical(lipgloss.Left, header, hints, panel)
}

func (m manageModel) viewDeleteConfirm() string {
	text := fmt.Sprintf(
		"Forget thread '%s'?\n\nThis removes its progress record only.\nThe backup files remain on disk.\n\nPress y or Enter to confirm, n or Esc to cancel.",
		m.confirmDeleteURL,
	)
	boxW := clampInt(m.width-8, 36, 80)
	boxH := clampInt(m.height-6, 9, 14)
	panel := managePanelStyle.Width(boxW).Height(boxH).Render(text)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
}

func (m *manageModel) applyFilter() {
	m.visible = filterThreadRows(m.rows, m.filterQuery)
	total := m.totalBrowseRows()
	if m.cursor > total-1 {
		m.cursor = maxInt(total-1, 0)
	}
}

func (m manageModel) selectedThread() (catalog.StatusItem, bool) {
	if m.isActionCursor() || m.cursor >= len(m.visible) {
		return catalog.StatusItem{}, false
	}
	return m.rows[m.visible[m.cursor]], true
}

func stateMark(state string) string {
	switch state {
	case "healthy":
		return "ok"
	case "needs_retry":
		return "!a"
	case "incomplete":
		return ".."
	case "failed":
		return "xx"
	default:
		return "??"
	}
}

func loadThreadsCmd(configPath, outputRoot string) tea.Cmd {
	return func() tea.Msg {
		settings, err := config.Read(configPath)
		if err != nil {
			return manageLoadedMsg{err: err}
		}
		res, err := catalog.Status(catalog.StatusOptions{OutputRoot: outputRoot})
		if err != nil {
			return manageLoadedMsg{err: err}
		}
		return manageLoadedMsg{rows: res.Rows, settings: settings}
	}
}

func forgetThreadCmd(outputRoot, url string) tea.Cmd {
	return func() tea.Msg {
		store, err := ledger.Load(ledger.PathIn(outputRoot))
		if err != nil {
			return manageDeleteMsg{err: err}
		}
		if err := store.Delete(url); err != nil {
			return manageDeleteMsg{err: err}
		}
		return manageDeleteMsg{message: "forgot thread: " + url}
	}
}
