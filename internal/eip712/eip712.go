// Package eip712 implements hashing, signing and recovery for the EIP-3009
// TransferWithAuthorization typed-data message used by the exact payment
// scheme. The field layout is fixed by the asset contract and must not vary.
package eip712

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Loa212/claude-reseller/internal/x402"
)

// Domain is the EIP-712 domain separator of the asset contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// transferWithAuthorizationTypes is the fixed typed-data layout for EIP-3009.
var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// AuthorizationDigest computes the EIP-712 digest
// keccak256("\x19\x01" || domainSeparator || structHash) for an
// authorization under the given domain.
func AuthorizationDigest(auth x402.ExactAuthorization, domain Domain) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %q", auth.ValidBefore)
	}
	nonce, err := ParseNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: common.HexToAddress(domain.VerifyingContract).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(validAfter),
			"validBefore": (*math.HexOrDecimal256)(validBefore),
			"nonce":       common.BytesToHash(nonce[:]).Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, structHash...)...)
	return crypto.Keccak256(rawData), nil
}

// RecoverSigner recovers the address that produced the given 65-byte hex
// signature over the digest. Accepts both 0/1 and 27/28 recovery ids.
func RecoverSigner(digest []byte, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Normalize the recovery id (27/28 -> 0/1).
	if sig[64] == 27 || sig[64] == 28 {
		sig = append([]byte{}, sig...)
		sig[64] -= 27
	}

	pubkey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}

// SignAuthorization signs an authorization with the given key and returns
// the 0x-prefixed 65-byte signature with a 27/28 recovery id, matching what
// wallets produce. Used by tests and client tooling.
func SignAuthorization(privateKey *ecdsa.PrivateKey, auth x402.ExactAuthorization, domain Domain) (string, error) {
	digest, err := AuthorizationDigest(auth, domain)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// ParseNonce decodes a 0x-prefixed 32-byte hex nonce.
func ParseNonce(nonce string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(nonce, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("nonce must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
