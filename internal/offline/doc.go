// Package offline keeps a versioned copy of the application shell so that the
// reader keeps working without a network connection.
//
// A Manager owns one bucket named by the current version tag. Install
// precaches the manifest into it, Serve answers requests from the buckets or
// the network depending on the resource, and Activate removes every bucket
// left behind by older versions.
package offline
