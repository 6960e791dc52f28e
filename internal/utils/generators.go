package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateOrderRef builds the external order reference attached to a ticket.
func GenerateOrderRef() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("bol_%d_%06d", timestamp, randomNum.Int64())
}
