package schedule

import (
	"fmt"
	"time"
)

// ShiftDefinition is one recurring daily shift.
type ShiftDefinition struct {
	Name   string
	Start  int // Hour (0-23)
	End    int // Hour (0-23); End <= Start crosses midnight
	Breaks []BreakDefinition
}

// BreakDefinition is unplanned time inside a shift.
type BreakDefinition struct {
	StartHour   int
	StartMinute int
	Minutes     int
	Type        string
}

// ShiftModel expands recurring shifts into planned windows.
type ShiftModel struct {
	name     string
	location *time.Location
	shifts   []ShiftDefinition
}

// NewShiftModel returns the named model: 3-shift, 2-shift or 1-shift.
func NewShiftModel(name, timezone string) (*ShiftModel, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
		}
		loc = l
	}

	shifts, ok := shiftModels[name]
	if !ok {
		return nil, fmt.Errorf("unknown shift model %q", name)
	}
	return &ShiftModel{name: name, location: loc, shifts: shifts}, nil
}

var shiftModels = map[string][]ShiftDefinition{
	"3-shift": {
		{
			Name:  "Morning",
			Start: 6,
			End:   14,
			Breaks: []BreakDefinition{
				{StartHour: 9, Minutes: 15, Type: "break"},
				{StartHour: 12, Minutes: 30, Type: "lunch"},
			},
		},
		{
			Name:  "Afternoon",
			Start: 14,
			End:   22,
			Breaks: []BreakDefinition{
				{StartHour: 17, Minutes: 15, Type: "break"},
				{StartHour: 19, Minutes: 30, Type: "lunch"},
			},
		},
		{
			Name:  "Night",
			Start: 22,
			End:   6,
			Breaks: []BreakDefinition{
				{StartHour: 1, Minutes: 15, Type: "break"},
				{StartHour: 3, Minutes: 30, Type: "lunch"},
			},
		},
	},
	"2-shift": {
		{
			Name:  "Day",
			Start: 6,
			End:   14,
			Breaks: []BreakDefinition{
				{StartHour: 9, Minutes: 15, Type: "break"},
				{StartHour: 12, Minutes: 30, Type: "lunch"},
			},
		},
		{
			Name:  "Late",
			Start: 14,
			End:   22,
			Breaks: []BreakDefinition{
				{StartHour: 17, Minutes: 15, Type: "break"},
				{StartHour: 19, Minutes: 30, Type: "lunch"},
			},
		},
	},
	"1-shift": {
		{
			Name:  "Day",
			Start: 8,
			End:   17,
			Breaks: []BreakDefinition{
				{StartHour: 10, Minutes: 15, Type: "break"},
				{StartHour: 12, StartMinute: 30, Minutes: 30, Type: "lunch"},
				{StartHour: 15, Minutes: 15, Type: "break"},
			},
		},
	},
}

func (m *ShiftModel) Name() string { return m.name }

// Windows returns the working time of every shift overlapping [from, to),
// with breaks cut out.
func (m *ShiftModel) Windows(from, to time.Time) []Window {
	if !to.After(from) {
		return nil
	}

	localFrom := from.In(m.location)
	// Start a day early so a night shift begun yesterday is included.
	day := time.Date(localFrom.Year(), localFrom.Month(), localFrom.Day(), 0, 0, 0, 0, m.location).AddDate(0, 0, -1)

	var windows []Window
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, s := range m.shifts {
			windows = append(windows, m.shiftWindows(day, s)...)
		}
	}
	return normalize(windows, from, to)
}

func (m *ShiftModel) shiftWindows(day time.Time, s ShiftDefinition) []Window {
	start := time.Date(day.Year(), day.Month(), day.Day(), s.Start, 0, 0, 0, m.location)
	end := time.Date(day.Year(), day.Month(), day.Day(), s.End, 0, 0, 0, m.location)
	if s.End <= s.Start {
		end = end.AddDate(0, 0, 1)
	}

	label := fmt.Sprintf("%s-%s", start.Format("2006-01-02"), s.Name)
	windows := []Window{{Start: start, End: end, Label: label}}

	for _, b := range s.Breaks {
		bStart := time.Date(day.Year(), day.Month(), day.Day(), b.StartHour, b.StartMinute, 0, 0, m.location)
		// Breaks before the shift start hour belong to the next day.
		if b.StartHour < s.Start {
			bStart = bStart.AddDate(0, 0, 1)
		}
		bEnd := bStart.Add(time.Duration(b.Minutes) * time.Minute)
		windows = cut(windows, bStart, bEnd)
	}
	return windows
}

// cut removes [start, end) from every window.
func cut(windows []Window, start, end time.Time) []Window {
	out := make([]Window, 0, len(windows)+1)
	for _, w := range windows {
		if !end.After(w.Start) || !start.Before(w.End) {
			out = append(out, w)
			continue
		}
		if start.After(w.Start) {
			out = append(out, Window{Start: w.Start, End: start, Label: w.Label})
		}
		if end.Before(w.End) {
			out = append(out, Window{Start: end, End: w.End, Label: w.Label})
		}
	}
	return out
}
