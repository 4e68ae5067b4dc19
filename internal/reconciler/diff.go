package reconciler

import (
	"encoding/json"
	"net"
	"reflect"
	"sort"
	"strings"

	"github.com/edvin/revive/internal/adguard"
	"github.com/edvin/revive/internal/model"
)

// FieldChange is one field the engine did not already hold at its desired
// value.
type FieldChange struct {
	Document string          `json:"document"`
	Field    string          `json:"field"`
	From     json.RawMessage `json:"from,omitempty"`
	To       json.RawMessage `json:"to,omitempty"`
}

// Documents touched by convergence.
const (
	DocClient = "client"
	DocAccess = "access"
)

// matchClient returns the index of the persistent client that represents
// the target, preferring a hardware address match over an address match.
func matchClient(clients []adguard.Document, t Target) int {
	byAddr := -1
	for i, c := range clients {
		for _, id := range c.Strings(adguard.FieldIDs) {
			if strings.EqualFold(id, t.MAC) {
				return i
			}
			if byAddr < 0 && t.Address != "" && id == t.Address {
				byAddr = i
			}
		}
	}
	return byAddr
}

// desiredIDs keeps the device's hardware address and current address and
// drops every other IP literal. Other identifiers (CIDRs, ClientIDs, other
// hardware addresses) are left alone.
func desiredIDs(current []string, t Target) []string {
	out := []string{t.MAC}
	if t.Address != "" {
		out = append(out, t.Address)
	}
	for _, id := range current {
		if strings.EqualFold(id, t.MAC) || id == t.Address || net.ParseIP(id) != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// addressesOf returns the IP literals among a client's identifiers.
func addressesOf(ids []string) []string {
	var out []string
	for _, id := range ids {
		if net.ParseIP(id) != nil {
			out = append(out, id)
		}
	}
	return out
}

// mergedServices is (current minus every catalog-managed service) plus the
// desired services, sorted.
func mergedServices(current, desired []string, managed map[string]bool) []string {
	set := make(map[string]bool, len(current)+len(desired))
	for _, s := range current {
		if !managed[s] {
			set[s] = true
		}
	}
	for _, s := range desired {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// applyClient writes the desired sub-fields into a copy of doc, leaving
// every other field as read from the engine.
func applyClient(doc adguard.Document, t Target, desired model.CompiledRuleSet, managed map[string]bool) (adguard.Document, error) {
	out := doc.Clone()
	sets := []struct {
		field string
		value any
	}{
		{adguard.FieldIDs, desiredIDs(doc.Strings(adguard.FieldIDs), t)},
		{adguard.FieldUseGlobalSettings, false},
		{adguard.FieldFilteringEnabled, true},
		{adguard.FieldUseGlobalBlockedServices, false},
		{adguard.FieldBlockedServices, mergedServices(doc.Strings(adguard.FieldBlockedServices), desired.BlockedServices, managed)},
	}
	for _, s := range sets {
		if err := out.Set(s.field, s.value); err != nil {
			return nil, err
		}
	}
	if err := out.SetSafeSearch(desired.SafeSearch); err != nil {
		return nil, err
	}
	return out, nil
}

// newClient builds the document for a client the engine does not know yet.
func newClient(name string, t Target, desired model.CompiledRuleSet, managed map[string]bool) (adguard.Document, error) {
	doc := adguard.Document{}
	if err := doc.Set(adguard.FieldName, name); err != nil {
		return nil, err
	}
	if err := doc.Set(adguard.FieldParentalEnabled, false); err != nil {
		return nil, err
	}
	if err := doc.Set(adguard.FieldSafeBrowsingEnabled, false); err != nil {
		return nil, err
	}
	return applyClient(doc, t, desired, managed)
}

// applyAccess returns a copy of the access list with this device's stale
// addresses removed from disallowed_clients, unless another device now
// holds them, and its current address added when the device is fully
// blocked.
func applyAccess(doc adguard.Document, t Target, previous []string, fullBlock bool) (adguard.Document, error) {
	drop := make(map[string]bool, len(previous)+1)
	for _, a := range previous {
		if t.claimedElsewhere(a) {
			// The address now belongs to another device, whose own
			// convergence owns its entry.
			continue
		}
		drop[a] = true
	}
	if t.Address != "" {
		drop[t.Address] = true
	}

	list := []string{}
	for _, entry := range doc.Strings(adguard.FieldDisallowedClients) {
		if !drop[entry] {
			list = append(list, entry)
		}
	}
	if fullBlock && t.Address != "" {
		list = append(list, t.Address)
	}

	out := doc.Clone()
	if err := out.Set(adguard.FieldDisallowedClients, list); err != nil {
		return nil, err
	}
	for _, f := range []string{adguard.FieldAllowedClients, adguard.FieldBlockedHosts} {
		if _, ok := out[f]; !ok {
			if err := out.Set(f, []string{}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// diffDocuments lists the fields whose JSON values differ. Keys are visited
// in sorted order so the result is deterministic.
func diffDocuments(name string, before, after adguard.Document) []FieldChange {
	keys := make(map[string]bool, len(after))
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []FieldChange
	for _, k := range sorted {
		if jsonEqual(before[k], after[k]) {
			continue
		}
		changes = append(changes, FieldChange{Document: name, Field: k, From: before[k], To: after[k]})
	}
	return changes
}

// jsonEqual compares two raw values semantically, so whitespace and key
// order differences do not count as changes.
func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(va, vb)
}

// uniqueName returns name, or name qualified by the hardware address when
// another client already uses it.
func uniqueName(clients []adguard.Document, name, mac string) string {
	if name == "" {
		name = mac
	}
	for _, c := range clients {
		if c.String(adguard.FieldName) == name {
			return name + " (" + mac + ")"
		}
	}
	return name
}
