package domain

import "time"

// Capabilities is the bit-set of optional features a connected client
// supports. Today there is exactly one bit.
type Capabilities struct {
	ExtensionUI bool
}

// Client is a single connected front-end (desktop, mobile, web) attached
// to one Hub.
type Client struct {
	ID           string
	Capabilities Capabilities
	ConnectedAt  time.Time
}

// ResumeInfo is what a reconnecting client presents to re-establish its
// position in the journal for every session it was watching.
type ResumeInfo struct {
	ConnectionID     string
	LastSeqBySession map[string]uint64
}
