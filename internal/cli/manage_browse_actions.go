package cli

import "strings"

const (
	manageActionCheckUpdates = iota
	manageActionRetryFailed
	manageActionGlobalSettings
)

var manageActions = []string{
	"Check Updates (all threads)",
	"Retry Failed Assets",
	"Global Settings",
}

func (m manageModel) renderActionsPanel(width int) string {
	lines := make([]string, 0, len(manageActions)+2)
	lines = append(lines, "Actions")
	lines = append(lines, "")
	for i, action := range manageActions {
		row := "[>] " + action
		if m.isActionCursor() && m.selectedActionIndex() == i {
			lines = append(lines, manageSelStyle.Width(maxInt(width-4, 6)).Render(truncateRunes(row, maxInt(width-6, 10))))
			continue
		}
		lines = append(lines, truncateRunes(row, maxInt(width-6, 10)))
	}
	return managePanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m manageModel) totalBrowseRows() int {
	return len(m.visible) + len(manageActions)
}

func (m manageModel) isActionCursor() bool {
	return m.cursor >= len(m.visible)
}

func (m manageModel) selectedActionIndex() int {
	idx := m.cursor - len(m.visible)
	if idx < 0 {
		return 0
	}
	if idx >= len(manageActions) {
		return len(manageActions) - 1
	}
	return idx
}
