package referral

import (
	"fmt"
	"time"
)

// Badge is a display label plus a style variant for a status or urgency.
type Badge struct {
	Label   string `json:"label"`
	Variant string `json:"variant"`
}

var statusBadges = map[Status]Badge{
	StatusPending:   {Label: "Pending", Variant: "warning"},
	StatusAccepted:  {Label: "Accepted", Variant: "info"},
	StatusDeclined:  {Label: "Declined", Variant: "destructive"},
	StatusCompleted: {Label: "Completed", Variant: "success"},
	StatusCancelled: {Label: "Cancelled", Variant: "muted"},
	StatusExpired:   {Label: "Expired", Variant: "muted"},
}

func StatusBadge(s Status) Badge {
	if b, ok := statusBadges[s]; ok {
		return b
	}
	return Badge{Label: string(s), Variant: "outline"}
}

var urgencyBadges = map[Urgency]Badge{
	UrgencyRoutine: {Label: "Routine", Variant: "secondary"},
	UrgencyUrgent:  {Label: "Urgent", Variant: "warning"},
	UrgencyStat:    {Label: "STAT", Variant: "destructive"},
}

func UrgencyBadge(u Urgency) Badge {
	if b, ok := urgencyBadges[u]; ok {
		return b
	}
	return Badge{Label: string(u), Variant: "outline"}
}

const dateLayout = "Jan 2, 2006"

// FormatDate renders t as "Jan 2, 2006".
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// FormatRelative renders t relative to now for the last week, and as a date
// after that. Future times are treated as now.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%dd ago", days)
	}
	return FormatDate(t)
}
