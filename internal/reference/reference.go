// Package reference generates the externally visible identifiers the ledger
// hands out: transaction references and wallet account numbers.
package reference

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	txnPrefix    = "TXN_"
	suffixChars  = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength = 9
)

// Generate returns a transaction reference of the form
// TXN_<unix-millis>_<random base36 suffix>. The millisecond prefix keeps
// references human-traceable in time; the suffix carries the entropy.
func Generate() string {
	return fmt.Sprintf("%s%d_%s", txnPrefix, time.Now().UnixMilli(), randomSuffix(suffixLength))
}

// AccountNumber returns a NUBAN-style 10-digit account number with the
// product's "90" prefix. Uniqueness is enforced by the wallets table, not
// here; callers retry on collision.
func AccountNumber() string {
	return "90" + randomDigits(8)
}

func randomSuffix(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(suffixChars)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			panic(err)
		}
		out[i] = suffixChars[idx.Int64()]
	}
	return string(out)
}

func randomDigits(n int) string {
	out := make([]byte, n)
	ten := big.NewInt(10)
	for i := range out {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(err)
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out)
}
