package domain

import "fmt"

// SyncWindow is an inclusive calendar-date range. A single-day window has From == To.
type SyncWindow struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// NewWindow returns the window [from, to] or an error when the bounds are inverted or unset.
func NewWindow(from, to Date) (SyncWindow, error) {
	w := SyncWindow{From: from, To: to}
	return w, w.Validate()
}

// Day returns the single-day window for d.
func Day(d Date) SyncWindow {
	return SyncWindow{From: d, To: d}
}

// Validate reports whether the window is well formed.
func (w SyncWindow) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("window bounds must be set")
	}
	if w.From.After(w.To) {
		return fmt.Errorf("window start %s is after end %s", w.From, w.To)
	}
	return nil
}

// Days returns the number of calendar days covered.
func (w SyncWindow) Days() int {
	return w.To.DaysSince(w.From) + 1
}

func (w SyncWindow) Equal(o SyncWindow) bool {
	return w.From.Equal(o.From) && w.To.Equal(o.To)
}

func (w SyncWindow) SingleDay() bool {
	return w.From.Equal(w.To)
}

// Contains reports whether d falls inside the window. Unset dates never do.
func (w SyncWindow) Contains(d Date) bool {
	if d.IsZero() {
		return false
	}
	return !d.Before(w.From) && !d.After(w.To)
}

// Split halves the window. The later half is never shorter than the earlier one.
// Single-day windows cannot be split.
func (w SyncWindow) Split() (earlier, later SyncWindow, ok bool) {
	days := w.Days()
	if days < 2 {
		return SyncWindow{}, SyncWindow{}, false
	}
	mid := w.From.AddDays(days/2 - 1)
	return SyncWindow{From: w.From, To: mid}, SyncWindow{From: mid.AddDays(1), To: w.To}, true
}

func (w SyncWindow) String() string {
	if w.SingleDay() {
		return w.From.String()
	}
	return fmt.Sprintf("%s..%s", w.From, w.To)
}
