// Package stores archives evaluated configurations in SQLite. Each record
// keeps the parameter dump, the library list, the script it came from, and
// the policy findings of the evaluation. The schema is applied from embedded
// migrations.
package stores
