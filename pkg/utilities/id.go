package utilities

import (
	"crypto/rand"
	"math/big"
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

const (
	digits       = "0123456789"
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	UserIDLength   = 10
	PasswordLength = 10
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeNode returns a snowflake node using SNOWFLAKE_NODE, defaulting to node 1
// when the variable is missing or invalid.
func NewSnowflakeNode() (*snowflake.Node, error) {
	nodeID, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64)
	if err != nil {
		nodeID = 1
	}
	return snowflake.NewNode(nodeID)
}

// GenerateUserID returns the public 10-digit account identifier.
// Uniqueness is probabilistic; storage is not consulted for collisions.
func GenerateUserID() string {
	return randomString(digits, UserIDLength)
}

// GeneratePassword returns a one-time alphanumeric password sent to the user by email.
func GeneratePassword() string {
	return randomString(alphanumeric, PasswordLength)
}

func randomString(alphabet string, n int) string {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform RNG is gone; nothing sensible to return
			panic(err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}
