package mcproto

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// OfflinePlayerUUID derives the identifier a vanilla server running in
// offline mode assigns for a username: a name-based (version 3) UUID of
// "OfflinePlayer:<name>". Deterministic, so the same name always maps to
// the same identifier.
func OfflinePlayerUUID(username string) uuid.UUID {
	const version = 3
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = (sum[6] & 0x0f) | uint8((version&0xf)<<4)
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant
	return uuid.UUID(sum)
}
