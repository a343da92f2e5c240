package approvals

// merge decides what the store holds after observing in, given the
// currently stored record (nil when unknown). It returns the record to
// keep and whether in was taken.
//
// Status is monotonic: once terminal, a later pending observation is
// stale and dropped. Between two terminal observations the one with the
// more recent ResolvedAt wins; without both timestamps the newer
// authoritative observation wins.
func merge(cur *Request, in Request) (Request, bool) {
	if cur == nil {
		return in, true
	}
	if cur.Status.IsTerminal() && !in.Status.IsTerminal() {
		return *cur, false
	}
	if cur.Status.IsTerminal() && in.Status.IsTerminal() &&
		cur.ResolvedAt != nil && in.ResolvedAt != nil && in.ResolvedAt.Before(*cur.ResolvedAt) {
		return *cur, false
	}
	return in, true
}

// sameState reports whether two records render identically.
func sameState(a, b Request) bool {
	if a.Status != b.Status || a.ActionDescription != b.ActionDescription ||
		!a.ExpiresAt.Equal(b.ExpiresAt) || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	switch {
	case a.ResolvedAt == nil && b.ResolvedAt == nil:
		return true
	case a.ResolvedAt == nil || b.ResolvedAt == nil:
		return false
	default:
		return a.ResolvedAt.Equal(*b.ResolvedAt)
	}
}
