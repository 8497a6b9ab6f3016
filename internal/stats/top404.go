package stats

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Top404Limit is how many not-found paths a daily row keeps.
const Top404Limit = 3

// maxStoredPathLength caps path lengths at the persistence boundary; the
// tracker already truncates at collection time, this guards reseeded or
// hand-edited counter payloads.
const maxStoredPathLength = 200

// Top404Entry is one (path, count) pair in a day's top-404 list, stored
// highest count first.
type Top404Entry struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// EncodeTop404 serializes entries for the daily_stats.top404 column.
func EncodeTop404(entries []Top404Entry) (string, error) {
	if entries == nil {
		entries = []Top404Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode top-404 list: %w", err)
	}
	return string(data), nil
}

// DecodeTop404 parses a stored top-404 list. Corrupt payloads decode as
// empty rather than failing the flush.
func DecodeTop404(raw string) []Top404Entry {
	if raw == "" {
		return []Top404Entry{}
	}
	var entries []Top404Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return []Top404Entry{}
	}
	return entries
}

// NormalizeTop404 turns a raw path→count map into the canonical top-N list:
// invalid entries dropped, counts coerced to at least 1, sorted by count
// descending (stable) and truncated to Top404Limit.
func NormalizeTop404(raw map[string]int64) []Top404Entry {
	entries := make([]Top404Entry, 0, len(raw))
	// Iterate keys in sorted order so equal counts rank deterministically.
	paths := make([]string, 0, len(raw))
	for path := range raw {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if path == "" {
			continue
		}
		if len(path) > maxStoredPathLength {
			path = path[:maxStoredPathLength]
		}
		count := raw[path]
		if count < 1 {
			count = 1
		}
		entries = append(entries, Top404Entry{Path: path, Count: count})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})

	if len(entries) > Top404Limit {
		entries = entries[:Top404Limit]
	}
	return entries
}

// MergeTop404 combines a stored top-404 list with a fresh delta, summing
// counts by path, then re-sorts and truncates to the canonical top-N. The
// existing list's ordering wins ties so repeated merges stay stable.
func MergeTop404(existing, delta []Top404Entry) []Top404Entry {
	merged := make([]Top404Entry, 0, len(existing)+len(delta))
	index := make(map[string]int, len(existing)+len(delta))

	for _, entry := range existing {
		if entry.Path == "" {
			continue
		}
		if i, ok := index[entry.Path]; ok {
			merged[i].Count += entry.Count
			continue
		}
		index[entry.Path] = len(merged)
		merged = append(merged, entry)
	}
	for _, entry := range delta {
		if entry.Path == "" {
			continue
		}
		if i, ok := index[entry.Path]; ok {
			merged[i].Count += entry.Count
			continue
		}
		index[entry.Path] = len(merged)
		merged = append(merged, entry)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Count > merged[j].Count
	})

	if len(merged) > Top404Limit {
		merged = merged[:Top404Limit]
	}
	return merged
}
