// Package ensemble decides how many performers play in a round and which of
// them do. Sizing is a tagged decision tree evaluated in strict priority
// order; selection balances play counts and rest streaks across the roster.
package ensemble
