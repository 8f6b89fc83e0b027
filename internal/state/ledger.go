package state

import (
	"encoding/json"
	"time"
)

// LedgerEntry is a committed fingerprint and when it was first committed.
type LedgerEntry struct {
	Fingerprint string    `json:"fp"`
	SeenAt      time.Time `json:"at"`
}

// Ledger is an exact, insertion-ordered set of committed fingerprints.
// Entries are never overwritten: the first commit of a fingerprint wins.
type Ledger struct {
	entries []LedgerEntry
	index   map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return Ledger{index: make(map[string]struct{})}
}

// Contains reports whether fp has been committed.
func (l Ledger) Contains(fp string) bool {
	_, ok := l.index[fp]
	return ok
}

// Len returns the number of fingerprints held.
func (l Ledger) Len() int { return len(l.entries) }

// Oldest returns the first-seen time of the oldest entry.
func (l Ledger) Oldest() (time.Time, bool) {
	if len(l.entries) == 0 {
		return time.Time{}, false
	}
	return l.entries[0].SeenAt, true
}

func (l Ledger) clone() Ledger {
	out := Ledger{
		entries: make([]LedgerEntry, len(l.entries)),
		index:   make(map[string]struct{}, len(l.index)),
	}
	copy(out.entries, l.entries)
	for k := range l.index {
		out.index[k] = struct{}{}
	}
	return out
}

// add appends fp unless present. Returns true when added.
func (l *Ledger) add(fp string, at time.Time) bool {
	if l.index == nil {
		l.index = make(map[string]struct{})
	}
	if _, ok := l.index[fp]; ok {
		return false
	}
	l.index[fp] = struct{}{}
	l.entries = append(l.entries, LedgerEntry{Fingerprint: fp, SeenAt: at})
	return true
}

// prune drops entries older than now-retention, then the oldest entries until
// at most maxEntries remain. Zero disables the respective bound.
func (l *Ledger) prune(now time.Time, retention time.Duration, maxEntries int) int {
	drop := 0
	if retention > 0 {
		cutoff := now.Add(-retention)
		for drop < len(l.entries) && l.entries[drop].SeenAt.Before(cutoff) {
			drop++
		}
	}
	if maxEntries > 0 && len(l.entries)-drop > maxEntries {
		drop = len(l.entries) - maxEntries
	}
	if drop == 0 {
		return 0
	}
	for _, e := range l.entries[:drop] {
		delete(l.index, e.Fingerprint)
	}
	l.entries = append([]LedgerEntry(nil), l.entries[drop:]...)
	return drop
}

func (l Ledger) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	var entries []LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = NewLedger()
	for _, e := range entries {
		l.add(e.Fingerprint, e.SeenAt)
	}
	return nil
}
