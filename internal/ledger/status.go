package ledger

import "fmt"

const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusInProgress: true,
		StatusComplete:   true,
		StatusFailed:     true,
	},
	StatusComplete: {
		StatusComplete:   true,
		StatusInProgress: true, // update run, forced range, or missing page file
	},
	StatusFailed: {
		StatusFailed:     true,
		StatusInProgress: true,
	},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok && status != ""
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionThreadStatus(rec *ThreadRecord, toStatus string) error {
	from := rec.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid thread status transition: %q -> %q (url=%s)", from, toStatus, rec.URL)
	}
	rec.Status = toStatus
	return nil
}
