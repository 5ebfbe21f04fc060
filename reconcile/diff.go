package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/payout-engine/payout"
)

// FieldChange is one tracked field that differs between versions.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Modification struct {
	Key     string        `json:"key"`
	Before  LineItem      `json:"before"`
	After   LineItem      `json:"after"`
	Changes []FieldChange `json:"changes"`
}

// DiffResult lists what changed. Unchanged items are omitted. Every slice
// is sorted by key.
type DiffResult struct {
	Added    []Entry        `json:"added"`
	Modified []Modification `json:"modified"`
	Deleted  []Entry        `json:"deleted"`
}

// Empty reports whether nothing changed.
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Keyed assigns natural keys, disambiguating collisions.
func Keyed(items []LineItem) []Entry {
	entries := make([]Entry, len(items))
	for i, it := range items {
		entries[i] = Entry{Key: it.NaturalKey(), Item: it}
	}
	return disambiguate(entries)
}

// FeedEntries splits a version's lines into the keyed feed entries and the
// manual rows, which never take part in diffing. Stored keys are kept as
// they are.
func FeedEntries(lines []payout.Line) (feed []Entry, manual []payout.Line) {
	for _, l := range lines {
		if l.Order.IsManualRow {
			manual = append(manual, l)
			continue
		}
		feed = append(feed, Entry{Key: l.Order.Key, Item: ItemFromOrder(l.Order)})
	}
	sort.Slice(feed, func(i, j int) bool { return feed[i].Key < feed[j].Key })
	return feed, manual
}

// disambiguate suffixes colliding keys with #2, #3... ordered by content
// hash, so the assignment is independent of input order.
func disambiguate(entries []Entry) []Entry {
	groups := make(map[string][]Entry)
	for _, e := range entries {
		groups[e.Key] = append(groups[e.Key], e)
	}
	out := make([]Entry, 0, len(entries))
	for key, group := range groups {
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Item.ContentHash() < group[j].Item.ContentHash()
		})
		for i, e := range group {
			if i > 0 {
				e.Key = suffixed(key, i+1)
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func suffixed(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s#%d", base, n)
}

// Diff compares the keyed entries of a version with an incoming feed.
// Previous keys are kept: an incoming row takes the key of the previous row
// it pairs with, and only rows with no counterpart get a new suffix.
// Incoming keys are ignored.
func Diff(previous, incoming []Entry) DiffResult {
	items := make([]LineItem, len(incoming))
	for i, e := range incoming {
		items[i] = e.Item
	}
	return diff(previous, items, true)
}

// DiffItems compares two raw sets. Keys are assigned to both sides jointly,
// so DiffItems(a, b).Added equals DiffItems(b, a).Deleted.
func DiffItems(previous, incoming []LineItem) DiffResult {
	prev := make([]Entry, len(previous))
	for i, it := range previous {
		prev[i] = Entry{Key: it.NaturalKey(), Item: it}
	}
	return diff(prev, incoming, false)
}

// =============================================================================
// PAIRING
// =============================================================================

// pair is one row of a collision group: before only (deleted), after only
// (added), or both.
type pair struct {
	key           string
	before, after *Entry
	rank          string
}

type hashed struct {
	Entry
	hash string
}

// diff groups both sides by natural key and pairs rows inside each group:
// identical rows first, then the leftovers in content-hash order. With
// keepKeys the previous side's keys label the pairs; otherwise every pair
// is labelled by rank, which is the same whichever side comes first.
func diff(previous []Entry, incoming []LineItem, keepKeys bool) DiffResult {
	prevGroups := make(map[string][]hashed)
	nextGroups := make(map[string][]hashed)
	used := make(map[string]bool, len(previous))
	for _, e := range previous {
		base := groupOf(e)
		prevGroups[base] = append(prevGroups[base], hashed{Entry: e, hash: e.Item.ContentHash()})
		if keepKeys {
			used[e.Key] = true
		}
	}
	for _, it := range incoming {
		base := it.NaturalKey()
		nextGroups[base] = append(nextGroups[base], hashed{Entry: Entry{Key: base, Item: it}, hash: it.ContentHash()})
	}

	bases := make(map[string]bool, len(prevGroups)+len(nextGroups))
	for b := range prevGroups {
		bases[b] = true
	}
	for b := range nextGroups {
		bases[b] = true
	}

	var res DiffResult
	for base := range bases {
		for _, p := range pairGroup(base, prevGroups[base], nextGroups[base], keepKeys, used) {
			switch {
			case p.before == nil:
				res.Added = append(res.Added, Entry{Key: p.key, Item: p.after.Item})
			case p.after == nil:
				res.Deleted = append(res.Deleted, Entry{Key: p.key, Item: p.before.Item})
			default:
				if changes := compare(p.before.Item, p.after.Item); len(changes) > 0 {
					res.Modified = append(res.Modified, Modification{
						Key: p.key, Before: p.before.Item, After: p.after.Item, Changes: changes,
					})
				}
			}
		}
	}

	sort.Slice(res.Added, func(i, j int) bool { return res.Added[i].Key < res.Added[j].Key })
	sort.Slice(res.Deleted, func(i, j int) bool { return res.Deleted[i].Key < res.Deleted[j].Key })
	sort.Slice(res.Modified, func(i, j int) bool { return res.Modified[i].Key < res.Modified[j].Key })
	return res
}

// groupOf is the natural key an entry collides under. A stored key that no
// longer derives from the row (its order code was edited) is a group of
// its own.
func groupOf(e Entry) string {
	base := e.Item.NaturalKey()
	if e.Key == base || strings.HasPrefix(e.Key, base+"#") {
		return base
	}
	return e.Key
}

func pairGroup(base string, prev, next []hashed, keepKeys bool, used map[string]bool) []pair {
	byHash := func(g []hashed) {
		sort.SliceStable(g, func(i, j int) bool {
			if g[i].hash != g[j].hash {
				return g[i].hash < g[j].hash
			}
			return g[i].Key < g[j].Key
		})
	}
	byHash(prev)
	byHash(next)

	var (
		pairs        []pair
		restP, restN []hashed
		i, j         int
	)
	for i < len(prev) && j < len(next) {
		switch {
		case prev[i].hash == next[j].hash:
			pairs = append(pairs, pair{before: &prev[i].Entry, after: &next[j].Entry, rank: prev[i].hash})
			i++
			j++
		case prev[i].hash < next[j].hash:
			restP = append(restP, prev[i])
			i++
		default:
			restN = append(restN, next[j])
			j++
		}
	}
	restP = append(restP, prev[i:]...)
	restN = append(restN, next[j:]...)

	for k := 0; k < len(restP) || k < len(restN); k++ {
		var p pair
		if k < len(restP) {
			p.before = &restP[k].Entry
			p.rank = restP[k].hash
		}
		if k < len(restN) {
			p.after = &restN[k].Entry
			if p.before == nil || restN[k].hash < p.rank {
				p.rank = restN[k].hash
			}
		}
		pairs = append(pairs, p)
	}

	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].rank < pairs[b].rank })
	if !keepKeys {
		for k := range pairs {
			pairs[k].key = suffixed(base, k+1)
		}
		return pairs
	}

	n := 1
	for k := range pairs {
		if pairs[k].before != nil {
			pairs[k].key = pairs[k].before.Key
			continue
		}
		for used[suffixed(base, n)] {
			n++
		}
		pairs[k].key = suffixed(base, n)
		used[pairs[k].key] = true
	}
	return pairs
}

func index(entries []Entry) map[string]LineItem {
	m := make(map[string]LineItem, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Item
	}
	return m
}

func compare(before, after LineItem) []FieldChange {
	var changes []FieldChange
	for _, f := range trackedFields {
		b, a := f.get(before), f.get(after)
		if b != a {
			changes = append(changes, FieldChange{Field: f.name, Before: b, After: a})
		}
	}
	return changes
}
