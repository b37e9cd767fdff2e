package domain

// IsMinorEdit reports whether every changed field is covered by the minor
// allowlist. Minor edits overwrite the current row in place instead of
// extending the version chain. An empty change set is trivially minor.
func IsMinorEdit(changed []string, allowlist []string) bool {
	if len(changed) == 0 {
		return true
	}
	if len(allowlist) == 0 {
		return false
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = struct{}{}
	}
	for _, name := range changed {
		if _, ok := allowed[name]; !ok {
			return false
		}
	}
	return true
}
