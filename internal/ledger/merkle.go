package ledger

import "github.com/hardy-3003/evidencestore/pkg/canonical"

// MerkleRoot computes the merkle root over an ordered list of prefixed
// digest strings.
//
// A single hash is its own root. Otherwise consecutive hashes are paired
// left to right, an odd tail is paired with itself, and each parent is the
// SHA-256 of the UTF-8 concatenation of the two child hash strings. The
// result is deterministic for a given order of inputs. An empty input
// yields the empty string.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, canonical.HashString(left+right))
		}
		level = next
	}
	return level[0]
}
