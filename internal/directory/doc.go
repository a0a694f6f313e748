// Package directory is the relational store mapping mnemonic group names to
// destination chat ids, and API keys to the groups they may send to.
//
// The dispatch path only ever reads from it; the write methods exist for
// seeding and administration tooling.
package directory
