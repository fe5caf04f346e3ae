package ledger

// EntriesFor is a test helper that snapshots the recorded entries for an
// account when using the in-memory store.
func EntriesFor(s Store, ref string) []Entry {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return nil
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()

	var matched []Entry
	for _, entry := range mem.entries {
		if entry.Ref == ref {
			matched = append(matched, entry)
		}
	}
	return matched
}
