package storage

import "strings"

// joinRoles and splitRoles encode a User's roles as a comma-separated
// column, avoiding a separate roles table for what is a short, fixed list.
func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
