// Package storage provides the persistence layer for schedhub.
//
// It holds three collections in one SQLite database:
//   - schedule plans (full documents plus lifted listing columns)
//   - scheduled activity instances (occurrence-keyed, seq-ordered)
//   - flat documentation records (identifier-keyed, parent-grouped)
package storage
