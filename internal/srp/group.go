// Package srp implements the SRP-6a key-agreement protocol (RFC 5054)
// used by the chat core for password authentication without ever
// transmitting the password or a password-equivalent.
package srp

import (
	"math/big"
	"sync"

	"chatcore/internal/bignum"
)

// groupPrimeHex is the RFC 5054 Group 14 2048-bit safe prime.
const groupPrimeHex = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

var (
	groupOnce sync.Once
	n         *big.Int
	g         *big.Int
	k         []byte
)

func initGroup() {
	var err error
	n, err = bignum.FromHex(groupPrimeHex)
	if err != nil {
		panic("srp: invalid group prime: " + err.Error())
	}
	g = big.NewInt(2)
	k = bignum.SHA256(bignum.ToBytesBE(n), bignum.ToBytesBE(g))
}

// N returns the RFC 5054 Group 14 safe prime.
func N() *big.Int {
	groupOnce.Do(initGroup)
	return new(big.Int).Set(n)
}

// G returns the group generator (2).
func G() *big.Int {
	groupOnce.Do(initGroup)
	return new(big.Int).Set(g)
}

// K returns k = H(N ‖ g), computed once per process.
func K() []byte {
	groupOnce.Do(initGroup)
	out := make([]byte, len(k))
	copy(out, k)
	return out
}
