package iot

import (
	"crypto/md5"
	"encoding/hex"
)

// HashPassword returns the lowercase hex MD5 digest the platform login expects
func HashPassword(plain string) string {
	sum := md5.Sum([]byte(plain))
	return hex.EncodeToString(sum[:])
}
