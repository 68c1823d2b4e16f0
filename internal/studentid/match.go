package studentid

// Distance returns the Levenshtein edit distance between a and b counting
// insertions, deletions and substitutions at cost one.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range ra {
		curr[0] = i + 1
		for j, cb := range rb {
			cost := 1
			if ca == cb {
				cost = 0
			}
			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Roster is a read-only set of valid identifiers.
type Roster map[string]struct{}

// NewRoster builds a roster set from a list, ignoring empty entries.
func NewRoster(ids []string) Roster {
	r := make(Roster, len(ids))
	for _, id := range ids {
		if id != "" {
			r[id] = struct{}{}
		}
	}
	return r
}

// Contains reports exact membership.
func (r Roster) Contains(id string) bool {
	_, ok := r[id]
	return ok
}

// MatchResult describes how a candidate was matched against a roster.
type MatchResult struct {
	ID string
	// Exact is true when the candidate itself was on the roster.
	Exact bool
	// Ambiguous counts roster entries one edit away when more than one exists.
	Ambiguous int
}

// Matched reports whether a roster entry was selected.
func (m MatchResult) Matched() bool {
	return m.ID != ""
}

// Match resolves candidate against roster. Exact membership always wins. With
// allowFuzzy, a single roster entry at distance one is accepted; two or more
// such entries is ambiguous and yields no match.
func Match(candidate string, roster Roster, allowFuzzy bool) MatchResult {
	if candidate == "" || len(roster) == 0 {
		return MatchResult{}
	}
	if roster.Contains(candidate) {
		return MatchResult{ID: candidate, Exact: true}
	}
	if !allowFuzzy {
		return MatchResult{}
	}
	var near []string
	for id := range roster {
		if Distance(candidate, id) == 1 {
			near = append(near, id)
		}
	}
	switch len(near) {
	case 1:
		return MatchResult{ID: near[0]}
	case 0:
		return MatchResult{}
	default:
		return MatchResult{Ambiguous: len(near)}
	}
}
