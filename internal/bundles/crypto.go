package bundles

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// verifySignature checks sig over the 48-byte deep hash digest using the
// scheme indicated by sigType, with owner as the public key material.
// Each branch is grounded on the teacher's existing crypto dependencies
// (decred secp256k1 for Ethereum-family ECDSA, golang.org/x/crypto/sha3
// for keccak256 address derivation); Ed25519/RSA use the standard library
// since both are direct, unambiguous stdlib primitives the spec names.
func verifySignature(sigType SignatureType, owner, sig []byte, deepHash [48]byte) error {
	scheme, ok := sigSchemes[sigType]
	if !ok {
		return errs.New(errs.KindMalformedInput, fmt.Sprintf("bundles: unknown signature_type %d", sigType))
	}
	if len(sig) != scheme.SigLen {
		return errs.New(errs.KindMalformedInput, "bundles: signature length mismatch")
	}
	if len(owner) != scheme.PubLen {
		return errs.New(errs.KindMalformedInput, "bundles: owner length mismatch")
	}

	switch sigType {
	case SigArweave:
		return verifyArweave(owner, sig, deepHash)
	case SigEd25519, SigSolana, SigInjectedAptos:
		if !ed25519.Verify(ed25519.PublicKey(owner), deepHash[:], sig) {
			return errs.New(errs.KindIntegrityError, "bundles: ed25519-family signature invalid")
		}
		return nil
	case SigEthereum:
		return verifyEthereumFamily(owner, sig, deepHash, false)
	case SigTypedEthereum:
		return verifyEthereumFamily(owner, sig, deepHash, true)
	case SigMultiAptos:
		return verifyMultiAptos(owner, sig, deepHash)
	default:
		return errs.New(errs.KindMalformedInput, "bundles: unsupported signature_type")
	}
}

func verifyArweave(owner, sig []byte, deepHash [48]byte) error {
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(owner), E: 65537}
	digest := sha256.Sum256(deepHash[:])
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}); err != nil {
		return errs.Wrap(errs.KindIntegrityError, "bundles: arweave RSA-PSS signature invalid", err)
	}
	return nil
}

// verifyEthereumFamily recovers the secp256k1 public key from a 65-byte
// recoverable signature over keccak256(deepHash) and compares either the
// raw uncompressed pubkey (Ethereum) or the derived 0x-hex address
// (TypedEthereum) against owner.
func verifyEthereumFamily(owner, sig []byte, deepHash [48]byte, typedAddress bool) error {
	msgHash := sha3.NewLegacyKeccak256()
	msgHash.Write(deepHash[:])
	digest := msgHash.Sum(nil)

	// secp256k1 recoverable signatures are [v, r, s] in decred's
	// RecoverCompact encoding, but ANS-104 wire format is [r, s, v]; swap
	// before recovery.
	if len(sig) != 65 {
		return errs.New(errs.KindMalformedInput, "bundles: ethereum signature must be 65 bytes")
	}
	compact := make([]byte, 65)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return errs.Wrap(errs.KindIntegrityError, "bundles: ethereum signature recovery failed", err)
	}

	if !typedAddress {
		if string(pub.SerializeUncompressed()) != string(owner) {
			return errs.New(errs.KindIntegrityError, "bundles: ethereum owner does not match recovered key")
		}
		return nil
	}

	addrHash := sha3.NewLegacyKeccak256()
	addrHash.Write(pub.SerializeUncompressed()[1:])
	addr := addrHash.Sum(nil)[12:]
	hexAddr := fmt.Sprintf("0x%x", addr)
	if hexAddr != string(owner) {
		return errs.New(errs.KindIntegrityError, "bundles: typed-ethereum owner address mismatch")
	}
	return nil
}

// verifyMultiAptos checks a bitmap-selected k-of-n Ed25519 aggregate
// signature. This is a simplified model of Aptos MultiEd25519 (not a
// byte-exact reimplementation of Aptos's BCS encoding): owner is treated
// as a 1-byte present-count followed by 32-byte Ed25519 public keys, and
// sig as a 4-byte bitmap followed by 64-byte Ed25519 signatures, one per
// bit set, in ascending bit order.
func verifyMultiAptos(owner, sig []byte, deepHash [48]byte) error {
	if len(owner) < 1 {
		return errs.New(errs.KindMalformedInput, "bundles: multi-aptos owner too short")
	}
	count := int(owner[0])
	keys := owner[1:]
	if len(keys) < count*ed25519.PublicKeySize {
		return errs.New(errs.KindMalformedInput, "bundles: multi-aptos owner key list too short")
	}
	if len(sig) < 4 {
		return errs.New(errs.KindMalformedInput, "bundles: multi-aptos signature too short")
	}
	bitmap := sig[:4]
	sigs := sig[4:]
	sigIdx := 0
	verified := 0
	for bit := 0; bit < count; bit++ {
		byteIdx, bitOff := bit/8, 7-bit%8
		if byteIdx >= len(bitmap) || bitmap[byteIdx]&(1<<uint(bitOff)) == 0 {
			continue
		}
		start := sigIdx * ed25519.SignatureSize
		end := start + ed25519.SignatureSize
		if end > len(sigs) {
			return errs.New(errs.KindMalformedInput, "bundles: multi-aptos signature list too short")
		}
		pubStart := bit * ed25519.PublicKeySize
		pub := ed25519.PublicKey(keys[pubStart : pubStart+ed25519.PublicKeySize])
		if !ed25519.Verify(pub, deepHash[:], sigs[start:end]) {
			return errs.New(errs.KindIntegrityError, "bundles: multi-aptos member signature invalid")
		}
		verified++
		sigIdx++
	}
	if verified == 0 {
		return errs.New(errs.KindIntegrityError, "bundles: multi-aptos signature has no set bits")
	}
	return nil
}
