package views

import (
	"strings"
	"time"

	"github.com/periskope/chat/internal/backend"
)

// participantNames joins all participant display names for the
// sidebar row.
func participantNames(c backend.Chat) string {
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

// HeaderName joins the display names of everyone except the current
// user, for the thread header. A chat where the user talks to
// themselves falls back to their own name.
func HeaderName(c backend.Chat, selfID string) string {
	var names []string
	for _, p := range c.Participants {
		if p.ID != selfID {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 && len(c.Participants) > 0 {
		return c.Participants[0].Name
	}
	return strings.Join(names, ", ")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
