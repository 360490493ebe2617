package redis

import (
	"crypto/sha1"
	"encoding/hex"
)

const (
	// KeyPrefixSnapshot is the prefix for mirrored snapshot keys
	KeyPrefixSnapshot = "livefeed:snapshot:"
)

// SnapshotKey returns the key holding the latest snapshot of feed. The feed
// address is hashed so that credentials in a URL never end up in a key.
func SnapshotKey(feed string) string {
	sum := sha1.Sum([]byte(feed))
	return KeyPrefixSnapshot + hex.EncodeToString(sum[:8])
}
