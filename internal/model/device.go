package model

import "time"

// Device is a network client observed in the lease table, keyed by its
// hardware address.
type Device struct {
	MAC         string    `json:"mac"`
	Address     string    `json:"address"`
	Hostname    string    `json:"hostname,omitempty"`
	DisplayName string    `json:"display_name"`
	NameSet     bool      `json:"name_set,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Stale       bool      `json:"stale"`
}

// Lease is a single entry read from the DHCP lease table.
type Lease struct {
	MAC       string    `json:"mac"`
	Address   string    `json:"address"`
	Hostname  string    `json:"hostname,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
