// Package checksum computes the per-sector CRC-32 used by every integrity path.
//
// The polynomial is the reflected IEEE 802.3 value 0xEDB88320 with an initial
// value of 0xFFFFFFFF and a final XOR of 0xFFFFFFFF. Generation, verification
// and repair-candidate validation must all call Sum so that a sector hashed on
// one path always compares equal on another.
package checksum

import "hash/crc32"

// Polynomial is the reflected IEEE 802.3 polynomial.
const Polynomial = crc32.IEEE

// Table is shared read-only by all workers.
var Table = crc32.IEEETable

// Sum returns the CRC-32 of data.
func Sum(data []byte) uint32 {
	return crc32.Checksum(data, Table)
}

// Match reports whether data hashes to want.
func Match(data []byte, want uint32) bool {
	return Sum(data) == want
}
