package srp

import (
	"math/big"

	"chatcore/internal/bignum"
)

// computeX computes x = H(salt ‖ H(username ‖ ":" ‖ password)) per
// spec.md §4.2. The inner hash binds the username to the password so
// that a verifier cannot be replayed under a different username.
func computeX(username, password, salt []byte) *big.Int {
	inner := bignum.SHA256(username, []byte(":"), password)
	x := bignum.SHA256(salt, inner)
	return bignum.FromBytesBE(x)
}

// ComputeVerifier computes v = g^x mod N for registration.
func ComputeVerifier(username, password, salt []byte) []byte {
	x := computeX(username, password, salt)
	v := bignum.ModExp(G(), x, N())
	return bignum.ToBytesBE(v)
}

// computeU computes u = H(A ‖ B).
func computeU(a, b []byte) *big.Int {
	return bignum.FromBytesBE(bignum.SHA256(a, b))
}

// computeB computes B = (k*v + g^b) mod N for the server side.
func computeB(b *big.Int, v *big.Int) *big.Int {
	kInt := bignum.FromBytesBE(K())
	kv := bignum.ModMul(kInt, v, N())
	gb := bignum.ModExp(G(), b, N())
	return bignum.ModAdd(kv, gb, N())
}

// computeServerS computes S = (A * v^u)^b mod N for the server side.
func computeServerS(a *big.Int, v *big.Int, u *big.Int, b *big.Int) *big.Int {
	vu := bignum.ModExp(v, u, N())
	avu := bignum.ModMul(a, vu, N())
	return bignum.ModExp(avu, b, N())
}

// computeClientS computes S = (B - k*g^x)^(a + u*x) mod N for the client
// side. u*x and a+u*x are plain (non-reduced) exponent arithmetic per
// spec.md §4.1.
func computeClientS(b *big.Int, x *big.Int, u *big.Int, a *big.Int) *big.Int {
	kInt := bignum.FromBytesBE(K())
	gx := bignum.ModExp(G(), x, N())
	kgx := bignum.ModMul(kInt, gx, N())
	base := bignum.ModSub(b, kgx, N())

	ux := bignum.Mul(u, x)
	exp := bignum.Add(a, ux)

	return bignum.ModExp(base, exp, N())
}

// computeK derives the shared session key K = H(S).
func computeK(s *big.Int) []byte {
	return bignum.SHA256(bignum.ToBytesBE(s))
}

// computeM computes the client proof
// M = H( (H(N) XOR H(g)) ‖ H(username) ‖ salt ‖ A ‖ B ‖ K ).
func computeM(username, salt, aBytes, bBytes, keyK []byte) []byte {
	hn := bignum.SHA256(bignum.ToBytesBE(N()))
	hg := bignum.SHA256(bignum.ToBytesBE(G()))
	xored := make([]byte, len(hn))
	for i := range hn {
		xored[i] = hn[i] ^ hg[i]
	}
	hi := bignum.SHA256(username)
	return bignum.SHA256(xored, hi, salt, aBytes, bBytes, keyK)
}

// computeHAMK computes the server proof H_AMK = H(A ‖ M ‖ K).
func computeHAMK(aBytes, m, keyK []byte) []byte {
	return bignum.SHA256(aBytes, m, keyK)
}
