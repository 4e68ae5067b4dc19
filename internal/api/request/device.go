package request

import (
	"github.com/edvin/revive/internal/model"
)

type SetFlag struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type Rename struct {
	Name string `json:"name" validate:"max=64"`
}

type Bedtime struct {
	Start string   `json:"start" validate:"required,hhmm"`
	End   string   `json:"end" validate:"required,hhmm"`
	Days  []string `json:"days" validate:"omitempty,max=7,dive,weekday"`
}

// Window converts the request into a bedtime window. Field syntax has
// already been checked by Decode.
func (b Bedtime) Window() (model.BedtimeWindow, error) {
	start, err := model.ParseClock(b.Start)
	if err != nil {
		return model.BedtimeWindow{}, err
	}
	end, err := model.ParseClock(b.End)
	if err != nil {
		return model.BedtimeWindow{}, err
	}
	w := model.BedtimeWindow{Start: start, End: end}
	for _, s := range b.Days {
		d, err := model.ParseWeekday(s)
		if err != nil {
			return model.BedtimeWindow{}, err
		}
		w.Days = append(w.Days, d)
	}
	return w, nil
}

// ToggleBlock is the legacy dashboard's category toggle, keyed by address.
type ToggleBlock struct {
	IP       string `json:"ip" validate:"required,ip"`
	Category string `json:"category" validate:"required"`
	Enabled  *bool  `json:"enabled" validate:"required"`
}

// ToggleIP is the legacy dashboard's boolean toggle, keyed by address.
type ToggleIP struct {
	IP      string `json:"ip" validate:"required,ip"`
	Enabled *bool  `json:"enabled" validate:"required"`
}
