// Package compiler turns a device's policy record into the concrete rule set
// the filtering engine should hold for it. Compilation is pure: identical
// inputs always produce identical output.
package compiler

import (
	"sort"
	"time"

	"github.com/edvin/revive/internal/config"
	"github.com/edvin/revive/internal/model"
)

// Compiler evaluates policies against a fixed service catalog in a single
// household time zone.
type Compiler struct {
	catalog *config.Catalog
	loc     *time.Location
}

// New creates a Compiler. A nil location means time.Local.
func New(catalog *config.Catalog, loc *time.Location) *Compiler {
	if loc == nil {
		loc = time.Local
	}
	return &Compiler{catalog: catalog, loc: loc}
}

// Catalog returns the catalog the compiler was built with.
func (c *Compiler) Catalog() *config.Catalog {
	return c.catalog
}

// Location returns the household time zone.
func (c *Compiler) Location() *time.Location {
	return c.loc
}

// BedtimeActive reports whether the record demands a full block at now,
// either through the manual override or the scheduled window.
func (c *Compiler) BedtimeActive(rec model.PolicyRecord, now time.Time) bool {
	if rec.BedtimeOverride {
		return true
	}
	return rec.Bedtime != nil && rec.Bedtime.Active(now.In(c.loc))
}

// Compile returns the rule set implied by rec at now. Bedtime dominates
// every other flag.
func (c *Compiler) Compile(rec model.PolicyRecord, now time.Time) model.CompiledRuleSet {
	out := model.CompiledRuleSet{
		Categories:      []string{},
		BlockedServices: []string{},
		CatalogVersion:  c.catalog.Version,
	}

	if c.BedtimeActive(rec, now) {
		out.State = model.StateBedtime
		out.FullBlock = true
		return out
	}

	categories := make(map[string]bool)
	if rec.BlockSocialMedia {
		categories[config.CategorySocialMedia] = true
	}
	for _, name := range rec.Categories {
		if c.catalog.Has(name) {
			categories[name] = true
		}
	}

	services := make(map[string]bool)
	for name := range categories {
		out.Categories = append(out.Categories, name)
		for _, s := range c.catalog.Services(name) {
			services[s] = true
		}
	}
	for s := range services {
		out.BlockedServices = append(out.BlockedServices, s)
	}
	sort.Strings(out.Categories)
	sort.Strings(out.BlockedServices)

	out.SafeSearch = rec.SafeSearch
	out.State = stateFor(rec.BlockSocialMedia, rec.SafeSearch)
	return out
}

func stateFor(social, safeSearch bool) model.EffectiveState {
	switch {
	case social && safeSearch:
		return model.StateSafeSearchSocialBlock
	case social:
		return model.StateSocialBlocked
	case safeSearch:
		return model.StateSafeSearchOnly
	default:
		return model.StateUnrestricted
	}
}
