package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// EffectiveState is the enforced state a device is in at a given instant.
type EffectiveState string

const (
	StateUnrestricted          EffectiveState = "unrestricted"
	StateSocialBlocked         EffectiveState = "social_blocked"
	StateSafeSearchOnly        EffectiveState = "safe_search_only"
	StateSafeSearchSocialBlock EffectiveState = "safe_search_and_social_blocked"
	StateBedtime               EffectiveState = "bedtime"
)

// CompiledRuleSet is the engine configuration a device should have. It is
// derived from a PolicyRecord and the current time and never persisted.
type CompiledRuleSet struct {
	State           EffectiveState `json:"state"`
	FullBlock       bool           `json:"full_block"`
	SafeSearch      bool           `json:"safe_search"`
	Categories      []string       `json:"categories"`
	BlockedServices []string       `json:"blocked_services"`
	CatalogVersion  string         `json:"catalog_version"`
}

// Canonical returns the canonical JSON encoding of the rule set.
func (c CompiledRuleSet) Canonical() []byte {
	if c.Categories == nil {
		c.Categories = []string{}
	}
	if c.BlockedServices == nil {
		c.BlockedServices = []string{}
	}
	// Marshalling a struct of strings, bools and string slices cannot fail.
	b, _ := json.Marshal(c)
	return b
}

// Fingerprint is a stable digest of the canonical encoding.
func (c CompiledRuleSet) Fingerprint() string {
	sum := sha256.Sum256(c.Canonical())
	return hex.EncodeToString(sum[:12])
}
