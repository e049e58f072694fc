// Package signing computes order fingerprints and verifies maker signatures.
//
// The fingerprint is a keccak-256 hash over every order field except the
// signature, prefixed with the settlement engine's instance address so that a
// signature produced for one engine cannot be replayed against another.
package signing

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/everbloomhq/exchange/pkg/errors"
	"github.com/everbloomhq/exchange/pkg/models"
)

const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// Fingerprint derives the deterministic identity of an order, scoped to the
// engine instance. Two orders with identical fields share a fingerprint and
// therefore share fill/cancel state; legitimate re-use is differentiated by
// nonce and expiry.
func Fingerprint(instance common.Address, o *models.Order) common.Hash {
	buf := make([]byte, 0, 9*common.AddressLength+5*32+2*common.HashLength)

	buf = append(buf, instance.Bytes()...)
	buf = append(buf, o.Maker.Bytes()...)
	buf = append(buf, o.Taker.Bytes()...)
	buf = append(buf, o.MakerAsset.Bytes()...)
	buf = append(buf, o.TakerAsset.Bytes()...)
	buf = append(buf, o.MakerCustody.Bytes()...)
	buf = append(buf, o.TakerCustody.Bytes()...)
	buf = append(buf, o.Reseller.Bytes()...)
	buf = append(buf, o.Verifier.Bytes()...)

	buf = appendUint256(buf, o.MakerAmount)
	buf = appendUint256(buf, o.TakerAmount)
	buf = appendUint64(buf, o.Expires)
	buf = appendUint256(buf, o.Nonce)
	buf = appendUint256(buf, o.MinTakerAmount)

	// Variable-length payloads are hashed first so the packing stays
	// fixed-width and unambiguous.
	buf = append(buf, crypto.Keccak256(o.MakerData)...)
	buf = append(buf, crypto.Keccak256(o.TakerData)...)

	return common.BytesToHash(crypto.Keccak256(buf))
}

// RecoverMaker recovers the signing address from a 65-byte [R||S||V]
// signature over the prefixed fingerprint. V may be 0/1 or 27/28.
func RecoverMaker(fingerprint common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Eligibility("invalid_signature", "signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(prefixedHash(fingerprint), normalized)
	if err != nil {
		return common.Address{}, errors.Eligibility("invalid_signature", "signature recovery failed").WithCause(err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig recovers to maker over the fingerprint.
func Verify(fingerprint common.Hash, sig []byte, maker common.Address) bool {
	recovered, err := RecoverMaker(fingerprint, sig)
	if err != nil {
		return false
	}
	return recovered == maker
}

// Sign produces a 65-byte [R||S||V] signature over the prefixed fingerprint,
// with V stored as 27/28. Used by tooling and tests; makers normally sign
// off-service.
func Sign(fingerprint common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(prefixedHash(fingerprint), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func prefixedHash(h common.Hash) []byte {
	return crypto.Keccak256([]byte(signedMessagePrefix), h.Bytes())
}

func appendUint256(buf []byte, v *big.Int) []byte {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	return append(buf, word[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], v)
	return append(buf, word[:]...)
}
