// Package clock implements the owned vector clock used to establish a
// causal partial order over pending transactions.
//
// Each node owns one clock and only ever increments its own entry; entries
// for other nodes advance exclusively through Merge. Compare yields the
// happened-before relation: Before, After, or Concurrent. Equal clocks
// compare as Concurrent so that the caller's content-hash tie-break makes
// the derived order total.
package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Ordering is the result of comparing two clocks.
type Ordering int

const (
	// Before indicates the receiver causally precedes the other clock.
	Before Ordering = iota
	// After indicates the receiver causally follows the other clock.
	After
	// Concurrent indicates no causal relationship (or equality).
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// Entry is one node's counter, used for serialized snapshots.
type Entry struct {
	NodeID  string `cramberry:"1"`
	Counter uint64 `cramberry:"2"`
}

// Clock is a vector clock owned by a single node.
type Clock struct {
	owner    string
	counters map[string]uint64
}

// New creates a clock owned by nodeID with all counters at zero.
func New(nodeID string) *Clock {
	return &Clock{
		owner:    nodeID,
		counters: make(map[string]uint64),
	}
}

// FromEntries reconstructs a clock from serialized entries.
func FromEntries(owner string, entries []Entry) *Clock {
	c := New(owner)
	for _, e := range entries {
		c.counters[e.NodeID] = e.Counter
	}
	return c
}

// Owner returns the owning node's ID.
func (c *Clock) Owner() string {
	return c.owner
}

// Get returns the counter for nodeID, or zero if unseen.
func (c *Clock) Get(nodeID string) uint64 {
	return c.counters[nodeID]
}

// Increment bumps the owner's own counter. Called before any locally
// originated event that other nodes may observe.
func (c *Clock) Increment() {
	c.counters[c.owner]++
}

// Merge takes the component-wise maximum of both clocks, adopting node IDs
// the receiver has not seen, then increments the owner's counter so the
// merge event itself causally follows everything merged.
func (c *Clock) Merge(remote *Clock) {
	if remote != nil {
		for nodeID, counter := range remote.counters {
			if c.counters[nodeID] < counter {
				c.counters[nodeID] = counter
			}
		}
	}
	c.Increment()
}

// Compare returns the causal relation of c to other: Before if every entry
// of c is ≤ the corresponding entry of other with at least one strictly
// less, After in the symmetric case, and Concurrent otherwise (including
// equality).
func (c *Clock) Compare(other *Clock) Ordering {
	var less, greater bool
	for nodeID, counter := range c.counters {
		o := other.counters[nodeID]
		if counter < o {
			less = true
		} else if counter > o {
			greater = true
		}
	}
	for nodeID, o := range other.counters {
		if _, ok := c.counters[nodeID]; !ok && o > 0 {
			less = true
		}
	}

	switch {
	case less && !greater:
		return Before
	case greater && !less:
		return After
	default:
		return Concurrent
	}
}

// Sum returns the total of all counters. If c happened before other then
// Sum(c) < Sum(other), so sorting by Sum with any tie-break yields a
// total order that extends the causal partial order.
func (c *Clock) Sum() uint64 {
	var total uint64
	for _, counter := range c.counters {
		total += counter
	}
	return total
}

// Copy returns a deep copy of the clock.
func (c *Clock) Copy() *Clock {
	cp := New(c.owner)
	for nodeID, counter := range c.counters {
		cp.counters[nodeID] = counter
	}
	return cp
}

// Entries returns the counters sorted by node ID for deterministic
// serialization.
func (c *Clock) Entries() []Entry {
	entries := make([]Entry, 0, len(c.counters))
	for nodeID, counter := range c.counters {
		entries = append(entries, Entry{NodeID: nodeID, Counter: counter})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NodeID < entries[j].NodeID
	})
	return entries
}

// String returns a deterministic text form, e.g. {a:1, b:3}.
func (c *Clock) String() string {
	entries := c.Entries()
	if len(entries) == 0 {
		return "{}"
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s:%d", e.NodeID, e.Counter)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
