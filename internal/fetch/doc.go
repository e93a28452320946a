// Package fetch downloads agent release artifacts and unpacks them.
//
// Ownership boundary:
// - HTTP(S) download with bounded, self-counted redirects
//
// - gzip inflate and single-member zip extraction from local file headers
//
// - host platform to release asset naming
package fetch
