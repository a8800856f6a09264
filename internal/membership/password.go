// internal/membership/password.go
package membership

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/argon2"
)

// argon2Params holds the Argon2id cost parameters, read once from the
// environment at package init so every hash/verify call in a process agrees
// on the same settings. Raising ARGON2_MEMORY_KB/ARGON2_TIME trades
// authentication latency for resistance to offline cracking; operators
// tune this per deployment rather than recompiling.
type argon2Params struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
	keyLen  uint32
	saltLen int
}

var hashParams = argon2ParamsFromEnv()

func argon2ParamsFromEnv() argon2Params {
	return argon2Params{
		time:    uint32(getEnvInt("ARGON2_TIME", 1)),
		memory:  uint32(getEnvInt("ARGON2_MEMORY_KB", 64*1024)),
		threads: uint8(getEnvInt("ARGON2_PARALLELISM", 4)),
		keyLen:  uint32(getEnvInt("ARGON2_KEY_LEN", 32)),
		saltLen: getEnvInt("ARGON2_SALT_LEN", 16),
	}
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// hashPassword generates a salted Argon2id hash of the password using the
// process's configured cost parameters.
func hashPassword(password string) (string, string, error) {
	salt := make([]byte, hashParams.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}

	hash := argon2.IDKey([]byte(password), salt, hashParams.time, hashParams.memory, hashParams.threads, hashParams.keyLen)

	encodedHash := base64.StdEncoding.EncodeToString(hash)
	encodedSalt := base64.StdEncoding.EncodeToString(salt)

	return encodedHash, encodedSalt, nil
}

// verifyPassword compares a password with a salted hash, re-deriving it
// under the current process's cost parameters. A member whose password was
// hashed under different ARGON2_TIME, ARGON2_MEMORY_KB or ARGON2_PARALLELISM
// settings will fail verification until they reset (the key length comes
// from the stored hash and the salt is stored, so ARGON2_KEY_LEN and
// ARGON2_SALT_LEN changes do not affect it) — this mirrors the tradeoff every
// parameter-bump migration makes and is not handled transparently here.
func verifyPassword(password, salt, hash string) (bool, error) {
	decodedSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	decodedHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	comparisonHash := argon2.IDKey([]byte(password), decodedSalt, hashParams.time, hashParams.memory, hashParams.threads, uint32(len(decodedHash)))

	return string(decodedHash) == string(comparisonHash), nil
}
