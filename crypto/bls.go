// Package crypto implements the threshold-signature primitives consensus
// relies on to turn 2f+1 votes into a single verifiable quorum certificate.
//
// The scheme is BLS12-381 under a genuine (t, n) Shamir sharing of the
// committee secret key: a trusted dealer picks a random degree-(t-1)
// polynomial f over the scalar field with f(0) as the committee secret, and
// replica i (1-indexed) holds sk_i = f(i). The committee's public key is
// f(0)*G2, not the sum of the per-replica public keys. Any t partial
// signatures sigma_i = sk_i*H(msg) combine into a valid signature over
// f(0)*H(msg) by weighting each sigma_i with its Lagrange coefficient at
// x=0 for the contributing set before summing — this is what lets any t-of-n
// subset, not just all n, produce a signature that verifies against the
// committee public key.
package crypto

import (
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// ErrorKind distinguishes the crypto failure modes it surfaces.
type ErrorKind string

const (
	ErrInvalidSignatureEncoding ErrorKind = "InvalidSignatureEncoding"
	ErrSignatureVerifyFailed    ErrorKind = "SignatureVerifyFailed"
	ErrInsufficientSignatures   ErrorKind = "InsufficientSignatures"
)

// Error wraps an ErrorKind with context, matching the ErrorCode pattern the
// rest of this codebase uses for typed, taggable errors.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func cryptoErr(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// SecretShare is replica i's scalar key share sk_i.
type SecretShare struct {
	Index uint32
	Scalar fr.Element
}

// PublicShare is a point in G2: either a single replica's pk_i = sk_i * G2,
// or the committee aggregate public key (the sum of all pk_i).
type PublicShare struct {
	Point bls12381.G2Affine
}

// PartialSig is sk_i * H(msg), a point in G1.
type PartialSig struct {
	Point bls12381.G1Affine
}

// ThresholdSig is the sum in G1 of >= t partial signatures; verifiable
// against the committee's aggregate PublicShare without knowing which subset
// contributed it.
type ThresholdSig struct {
	Point bls12381.G1Affine
}

// IndexedPartialSig names the signer a PartialSig came from, so Aggregate
// can report which index produced a bad signature.
type IndexedPartialSig struct {
	Index uint32
	Sig   PartialSig
}

// KeySet is the output of distributed key generation: the committee public
// key f(0)*G2 and n Shamir secret shares sk_i = f(i), one per replica.
type KeySet struct {
	AggregatePK PublicShare
	Shares      []SecretShare
	PublicKeys  []PublicShare // PublicKeys[i] = Shares[i].Scalar * G2
	Threshold   int
}

var g2Gen = mustG2Generator()

func mustG2Generator() bls12381.G2Affine {
	_, _, _, g2 := bls12381.Generators()
	return g2
}

// PublicShareFromScalar derives sk*G2, the public share corresponding to a
// secret scalar. Used both during GenerateKeys and to verify an unwrapped
// keystore reproduces its recorded public share.
func PublicShareFromScalar(sk fr.Element) PublicShare {
	var pkJac bls12381.G2Jac
	pkJac.FromAffine(&g2Gen)
	pkJac.ScalarMultiplication(&pkJac, sk.BigInt(new(big.Int)))
	var pkAff bls12381.G2Affine
	pkAff.FromJacobian(&pkJac)
	return PublicShare{Point: pkAff}
}

// GenerateKeys runs a trusted-dealer (t, n) Shamir setup: a random
// degree-(t-1) polynomial f is drawn over the scalar field, replica i
// (1-indexed) receives sk_i = f(i), and the committee public key is f(0)*G2.
// This is sufficient for the engine's correctness requirements; a real
// deployment would replace the trusted dealer with a DKG (out of scope
// here).
func GenerateKeys(threshold, n int) (KeySet, error) {
	if threshold < 1 || n < 1 || threshold > n {
		return KeySet{}, cryptoErr(ErrInsufficientSignatures, "invalid threshold=%d n=%d", threshold, n)
	}
	coeffs := make([]fr.Element, threshold)
	for j := range coeffs {
		if _, err := coeffs[j].SetRandom(); err != nil {
			return KeySet{}, fmt.Errorf("bls: keygen: %w", err)
		}
	}

	ks := KeySet{
		Shares:     make([]SecretShare, n),
		PublicKeys: make([]PublicShare, n),
		Threshold:  threshold,
	}
	for i := 0; i < n; i++ {
		var x fr.Element
		x.SetUint64(uint64(i + 1)) // x=0 is reserved for the committee secret
		y := evalPoly(coeffs, x)
		ks.Shares[i] = SecretShare{Index: uint32(i), Scalar: y}
		ks.PublicKeys[i] = PublicShareFromScalar(y)
	}

	var zero fr.Element
	ks.AggregatePK = PublicShareFromScalar(evalPoly(coeffs, zero))
	return ks, nil
}

// evalPoly evaluates coeffs[0] + coeffs[1]*x + ... + coeffs[len-1]*x^(len-1)
// via Horner's method.
func evalPoly(coeffs []fr.Element, x fr.Element) fr.Element {
	var acc fr.Element
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &coeffs[i])
	}
	return acc
}

// shareX maps a replica's zero-based committee index to its Shamir
// x-coordinate (1-indexed, since x=0 is reserved for the secret itself).
func shareX(index uint32) fr.Element {
	var x fr.Element
	x.SetUint64(uint64(index) + 1)
	return x
}

// lagrangeCoefficientAtZero computes party xi's Lagrange basis polynomial
// evaluated at 0 for the interpolation set xs: prod_{j != i} (-x_j)/(x_i-x_j).
// Weighting each contributing partial signature by this coefficient before
// summing is what reconstructs f(0)*H(msg) from any t-sized (or larger)
// subset of the n shares, regardless of which subset signed.
func lagrangeCoefficientAtZero(xi fr.Element, xs []fr.Element) fr.Element {
	var result fr.Element
	result.SetOne()
	for _, xj := range xs {
		if xj.Equal(&xi) {
			continue
		}
		var negXj, diff, diffInv, term fr.Element
		negXj.Neg(&xj)
		diff.Sub(&xi, &xj)
		diffInv.Inverse(&diff)
		term.Mul(&negXj, &diffInv)
		result.Mul(&result, &term)
	}
	return result
}

// voteDomainSeparationTag binds hash-to-curve to this protocol, per the
// RFC 9380-style convention of a unique DST per signature scheme/use.
var voteDST = []byte("HOTSTUFF2-BLS12381G1-VOTE-v1")

// hashToG1 maps an arbitrary message to a point in G1: the H(msg) of this
// scheme. A real deployment must fix one hash-to-curve scheme network-wide;
// this implementation uses gnark-crypto's RFC 9380-compatible SSWU map.
func hashToG1(msg []byte) (bls12381.G1Affine, error) {
	p, err := bls12381.HashToG1(msg, voteDST)
	if err != nil {
		return bls12381.G1Affine{}, cryptoErr(ErrInvalidSignatureEncoding, "hash-to-curve: %v", err)
	}
	return p, nil
}

// VoteDigest is the message signed by a vote: SHA-256("VOTE" || view || block_hash),
// binding the signature to a specific view so it cannot be replayed across views.
func VoteDigest(view uint64, blockHash [32]byte) []byte {
	return sha256VoteDigest(view, blockHash)
}

// SignPartial computes sigma_i = sk_i * H(msg).
func SignPartial(share SecretShare, msg []byte) (PartialSig, error) {
	h, err := hashToG1(msg)
	if err != nil {
		return PartialSig{}, err
	}
	var hJac bls12381.G1Jac
	hJac.FromAffine(&h)
	hJac.ScalarMultiplication(&hJac, share.Scalar.BigInt(new(big.Int)))
	var out bls12381.G1Affine
	out.FromJacobian(&hJac)
	return PartialSig{Point: out}, nil
}

// VerifyPartial checks e(H(msg), pk_i) == e(sigma_i, G2).
func VerifyPartial(pk PublicShare, msg []byte, sig PartialSig) bool {
	h, err := hashToG1(msg)
	if err != nil {
		return false
	}
	return pairingEqual(h, pk.Point, sig.Point, g2Gen)
}

// Aggregate combines a set of partial signatures into a threshold signature
// verifiable against the committee public key, by weighting each signer's
// partial signature with its Lagrange coefficient at x=0 for the
// contributing set and summing. Any subset of size >= the sharing threshold
// reconstructs the same signature over f(0)*H(msg), regardless of which
// replicas are in it. It rejects on the first constituent signature that
// does not individually verify, preventing a poisoned aggregate from ever
// forming, and on a duplicate signer index, which would make the
// interpolation set ill-formed.
func Aggregate(msg []byte, pubKeys map[uint32]PublicShare, signers []IndexedPartialSig) (ThresholdSig, error) {
	if len(signers) == 0 {
		return ThresholdSig{}, cryptoErr(ErrInsufficientSignatures, "no signers")
	}
	xs := make([]fr.Element, len(signers))
	seen := make(map[uint32]bool, len(signers))
	for i, s := range signers {
		if seen[s.Index] {
			return ThresholdSig{}, cryptoErr(ErrInvalidSignatureEncoding, "duplicate signer index %d", s.Index)
		}
		seen[s.Index] = true
		xs[i] = shareX(s.Index)
	}

	var sumJac bls12381.G1Jac // zero value is the point at infinity
	for i, s := range signers {
		pk, ok := pubKeys[s.Index]
		if !ok {
			return ThresholdSig{}, cryptoErr(ErrInvalidSignatureEncoding, "unknown signer index %d", s.Index)
		}
		if !VerifyPartial(pk, msg, s.Sig) {
			return ThresholdSig{}, cryptoErr(ErrSignatureVerifyFailed, "signer %d failed individual verification", s.Index)
		}
		lambda := lagrangeCoefficientAtZero(xs[i], xs)
		var pJac bls12381.G1Jac
		pJac.FromAffine(&s.Sig.Point)
		pJac.ScalarMultiplication(&pJac, lambda.BigInt(new(big.Int)))
		sumJac.AddAssign(&pJac)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&sumJac)
	return ThresholdSig{Point: out}, nil
}

// VerifyThreshold checks a threshold signature against the committee's
// aggregate public key: e(H(msg), aggregate_pk) == e(sigma, G2).
//
// The zero-value signature (G1 identity) is special-cased to verify
// unconditionally: it is the genesis quorum certificate's signature, which
// certifies a block no view ever actually voted on, so there is no real
// pairing check to perform for it.
func VerifyThreshold(aggregatePK PublicShare, msg []byte, sig ThresholdSig) bool {
	if sig.Point.IsInfinity() {
		return true
	}
	h, err := hashToG1(msg)
	if err != nil {
		return false
	}
	return pairingEqual(h, aggregatePK.Point, sig.Point, g2Gen)
}

// VerifyThresholdCount additionally enforces that the aggregate was formed
// from at least `threshold` signers.
func VerifyThresholdCount(aggregatePK PublicShare, msg []byte, sig ThresholdSig, signerCount, threshold int) error {
	if signerCount < threshold {
		return cryptoErr(ErrInsufficientSignatures, "have %d, need %d", signerCount, threshold)
	}
	if !VerifyThreshold(aggregatePK, msg, sig) {
		return cryptoErr(ErrSignatureVerifyFailed, "threshold signature pairing check failed")
	}
	return nil
}

// G1CompressedSize is the wire length of a compressed BLS12-381 G1 point,
// the encoding ThresholdSig and PartialSig serialize to.
const G1CompressedSize = bls12381.SizeOfG1AffineCompressed

// G2CompressedSize is the wire length of a compressed BLS12-381 G2 point,
// the encoding PublicShare serializes to.
const G2CompressedSize = bls12381.SizeOfG2AffineCompressed

// ScalarSize is the wire length of a BLS12-381 scalar field element, the
// encoding a SecretShare's Scalar serializes to.
const ScalarSize = fr.Bytes

// Bytes returns the compressed encoding of a public key share.
func (p PublicShare) Bytes() [bls12381.SizeOfG2AffineCompressed]byte {
	return p.Point.Bytes()
}

// DecodePublicShare parses a compressed G2 point produced by Bytes.
func DecodePublicShare(b []byte) (PublicShare, error) {
	if len(b) != G2CompressedSize {
		return PublicShare{}, cryptoErr(ErrInvalidSignatureEncoding, "public share must be %d bytes, got %d", G2CompressedSize, len(b))
	}
	var pt bls12381.G2Affine
	if _, err := pt.SetBytes(b); err != nil {
		return PublicShare{}, cryptoErr(ErrInvalidSignatureEncoding, "public share: %v", err)
	}
	return PublicShare{Point: pt}, nil
}

// Bytes returns the big-endian encoding of a secret share's scalar.
func (s SecretShare) Bytes() [fr.Bytes]byte {
	return s.Scalar.Bytes()
}

// DecodeSecretShare rebuilds a SecretShare from its index and scalar bytes.
func DecodeSecretShare(index uint32, b []byte) (SecretShare, error) {
	if len(b) != ScalarSize {
		return SecretShare{}, cryptoErr(ErrInvalidSignatureEncoding, "secret share scalar must be %d bytes, got %d", ScalarSize, len(b))
	}
	var s fr.Element
	s.SetBytes(b)
	return SecretShare{Index: index, Scalar: s}, nil
}

// Bytes returns the compressed encoding of a threshold signature.
func (s ThresholdSig) Bytes() [bls12381.SizeOfG1AffineCompressed]byte {
	return s.Point.Bytes()
}

// DecodeThresholdSig parses a compressed G1 point produced by Bytes.
func DecodeThresholdSig(b []byte) (ThresholdSig, error) {
	if len(b) != G1CompressedSize {
		return ThresholdSig{}, cryptoErr(ErrInvalidSignatureEncoding, "threshold sig must be %d bytes, got %d", G1CompressedSize, len(b))
	}
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return ThresholdSig{}, cryptoErr(ErrInvalidSignatureEncoding, "threshold sig: %v", err)
	}
	return ThresholdSig{Point: p}, nil
}

// DecodePartialSig parses a compressed G1 point into a PartialSig, the form
// a Vote or Timeout message carries on the wire.
func DecodePartialSig(b []byte) (PartialSig, error) {
	if len(b) != G1CompressedSize {
		return PartialSig{}, cryptoErr(ErrInvalidSignatureEncoding, "partial sig must be %d bytes, got %d", G1CompressedSize, len(b))
	}
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return PartialSig{}, cryptoErr(ErrInvalidSignatureEncoding, "partial sig: %v", err)
	}
	return PartialSig{Point: p}, nil
}

// pairingEqual reports whether e(p1, q1) == e(p2, q2).
func pairingEqual(p1 bls12381.G1Affine, q1 bls12381.G2Affine, p2 bls12381.G1Affine, q2 bls12381.G2Affine) bool {
	var p2Neg bls12381.G1Affine
	p2Neg.Neg(&p2)
	ok, err := bls12381.PairingCheck([]bls12381.G1Affine{p1, p2Neg}, []bls12381.G2Affine{q1, q2})
	if err != nil {
		return false
	}
	return ok
}

