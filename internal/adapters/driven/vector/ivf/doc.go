// Package ivf provides a pure Go approximate nearest neighbour index.
//
// Vectors are normalised and grouped into partitions by k-means. A search
// ranks the partition centroids against the query and scans the closest
// breadth partitions exactly, plus any vectors added since the last
// training pass. Probing more partitions only ever adds candidates, so
// recall against the exact top-k never drops as breadth grows.
//
// Persistence follows a flush-on-close contract: Add and Delete change
// only memory, Close rewrites the whole file, and Discard releases a
// connection without writing. Two connections to the same file each hold
// their own snapshot; closing a stale one overwrites newer data.
package ivf
