package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PolicyRecord is the administrator's desired policy for one device.
// The zero value means no restrictions.
type PolicyRecord struct {
	BlockSocialMedia bool           `json:"block_social_media"`
	SafeSearch       bool           `json:"safe_search"`
	Bedtime          *BedtimeWindow `json:"bedtime,omitempty"`
	BedtimeOverride  bool           `json:"bedtime_active_override"`
	// Categories holds additional catalog categories (beyond social media)
	// blocked for the device, e.g. "gaming".
	Categories []string  `json:"categories,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (p PolicyRecord) Clone() PolicyRecord {
	out := p
	if p.Bedtime != nil {
		w := p.Bedtime.Clone()
		out.Bedtime = &w
	}
	if p.Categories != nil {
		out.Categories = append([]string(nil), p.Categories...)
	}
	return out
}

// BedtimeWindow is a recurring daily window in the household time zone.
// A window whose start is after its end wraps through midnight, and its
// weekday set refers to the day the window starts on. An empty weekday set
// applies to every day.
type BedtimeWindow struct {
	Start Clock     `json:"start"`
	End   Clock     `json:"end"`
	Days  []Weekday `json:"days,omitempty"`
}

func (w BedtimeWindow) Clone() BedtimeWindow {
	out := w
	if w.Days != nil {
		out.Days = append([]Weekday(nil), w.Days...)
	}
	return out
}

// Validate rejects empty windows.
func (w BedtimeWindow) Validate() error {
	if w.Start == w.End {
		return fmt.Errorf("bedtime window start and end are both %s", w.Start)
	}
	if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End >= minutesPerDay {
		return fmt.Errorf("bedtime window out of range")
	}
	return nil
}

// Wraps reports whether the window crosses midnight.
func (w BedtimeWindow) Wraps() bool {
	return w.Start > w.End
}

// Active reports whether t falls inside the window. t must already be in
// the household time zone.
func (w BedtimeWindow) Active(t time.Time) bool {
	m := Clock(t.Hour()*60 + t.Minute())
	day := t.Weekday()

	if !w.Wraps() {
		return m >= w.Start && m < w.End && w.appliesOn(day)
	}
	if m >= w.Start && w.appliesOn(day) {
		return true
	}
	return m < w.End && w.appliesOn((day+6)%7)
}

func (w BedtimeWindow) appliesOn(day time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

const minutesPerDay = 24 * 60

// Clock is a time of day in minutes after midnight. It is encoded as "HH:MM".
type Clock int

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Weekday is a time.Weekday encoded as its three-letter lower-case name.
type Weekday time.Weekday

var weekdayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// ParseWeekday accepts three-letter or full English day names in any case.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(s, name) {
				return Weekday(i), nil
			}
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

func (d Weekday) String() string {
	if d < 0 || int(d) >= len(weekdayNames) {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Weekday) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
