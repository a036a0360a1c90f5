package calendar

import "fmt"

// Window is a half-open time-of-day interval [Start, End).
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func NewWindow(start, end Clock) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether both bounds are in range and Start < End.
func (w Window) Valid() bool {
	return w.Start.Valid() && w.End.Valid() && w.Start < w.End
}

func (w Window) Minutes() int { return int(w.End - w.Start) }

func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

func (w Window) Contains(o Window) bool {
	return w.Start <= o.Start && o.End <= w.End
}

// Subtract removes cut from w. The result has zero, one or two windows,
// in chronological order.
func (w Window) Subtract(cut Window) []Window {
	if !w.Overlaps(cut) {
		return []Window{w}
	}

	var out []Window
	if w.Start < cut.Start {
		out = append(out, Window{Start: w.Start, End: cut.Start})
	}
	if cut.End < w.End {
		out = append(out, Window{Start: cut.End, End: w.End})
	}
	return out
}

// Split walks w forward in steps of the given duration and returns every
// step that fits entirely inside w. A trailing remainder is dropped.
func (w Window) Split(minutes int) []Window {
	if minutes <= 0 || !w.Valid() {
		return nil
	}

	var out []Window
	for start := w.Start; start.Add(minutes) <= w.End; start = start.Add(minutes) {
		out = append(out, Window{Start: start, End: start.Add(minutes)})
	}
	return out
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", w.Start, w.End)
}
