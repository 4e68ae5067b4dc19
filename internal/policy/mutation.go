package policy

import (
	"fmt"
	"sort"

	"github.com/edvin/revive/internal/config"
	"github.com/edvin/revive/internal/model"
)

// SetSocialMedia toggles the social media block.
func SetSocialMedia(enabled bool) Mutation {
	return func(rec *model.PolicyRecord, _ *config.Catalog) error {
		rec.BlockSocialMedia = enabled
		return nil
	}
}

// SetSafeSearch toggles enforced safe search.
func SetSafeSearch(enabled bool) Mutation {
	return func(rec *model.PolicyRecord, _ *config.Catalog) error {
		rec.SafeSearch = enabled
		return nil
	}
}

// SetBedtime replaces the bedtime window.
func SetBedtime(w model.BedtimeWindow) Mutation {
	return func(rec *model.PolicyRecord, _ *config.Catalog) error {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidWindow, err)
		}
		cp := w.Clone()
		sort.Slice(cp.Days, func(i, j int) bool { return cp.Days[i] < cp.Days[j] })
		cp.Days = dedupeDays(cp.Days)
		rec.Bedtime = &cp
		return nil
	}
}

// ClearBedtime removes the bedtime window.
func ClearBedtime() Mutation {
	return func(rec *model.PolicyRecord, _ *config.Catalog) error {
		rec.Bedtime = nil
		return nil
	}
}

// SetOverride forces or releases the manual full block.
func SetOverride(enabled bool) Mutation {
	return func(rec *model.PolicyRecord, _ *config.Catalog) error {
		rec.BedtimeOverride = enabled
		return nil
	}
}

// SetCategory blocks or unblocks a catalog category. The social media
// category maps onto the dedicated flag.
func SetCategory(name string, enabled bool) Mutation {
	return func(rec *model.PolicyRecord, catalog *config.Catalog) error {
		if catalog == nil || !catalog.Has(name) {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, name)
		}
		if name == config.CategorySocialMedia {
			rec.BlockSocialMedia = enabled
			return nil
		}

		kept := rec.Categories[:0:0]
		for _, c := range rec.Categories {
			if c != name {
				kept = append(kept, c)
			}
		}
		if enabled {
			kept = append(kept, name)
		}
		sort.Strings(kept)
		if len(kept) == 0 {
			kept = nil
		}
		rec.Categories = kept
		return nil
	}
}

func dedupeDays(days []model.Weekday) []model.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := days[:1]
	for _, d := range days[1:] {
		if d != out[len(out)-1] {
			out = append(out, d)
		}
	}
	return out
}
