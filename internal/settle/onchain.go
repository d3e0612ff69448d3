package settle

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Loa212/claude-reseller/internal/eip712"
	"github.com/Loa212/claude-reseller/internal/x402"
)

// transferWithAuthorizationABI is the EIP-3009 entrypoint on the asset
// contract, with the signature split into v, r, s.
const transferWithAuthorizationABI = `[{
	"type": "function",
	"name": "transferWithAuthorization",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"outputs": []
}]`

// OnChainSettler settles payments by submitting transferWithAuthorization
// directly to the asset contract, paying gas from its own key. Settle blocks
// until the transaction is mined so the receipt is proof of transfer.
type OnChainSettler struct {
	client     *ethclient.Client
	chainID    *big.Int
	network    string
	privateKey *ecdsa.PrivateKey
	sender     common.Address
	abi        abi.ABI
}

// NewOnChainSettler dials the RPC endpoint and prepares the settler.
func NewOnChainSettler(rpcURL, privateKeyHex string, chainID *big.Int, network string) (*OnChainSettler, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc URL is required")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(transferWithAuthorizationABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transferWithAuthorization ABI: %w", err)
	}

	return &OnChainSettler{
		client:     client,
		chainID:    chainID,
		network:    network,
		privateKey: privateKey,
		sender:     crypto.PubkeyToAddress(privateKey.PublicKey),
		abi:        parsedABI,
	}, nil
}

// Settle submits the authorization to the asset contract and waits for the
// transaction to be mined.
func (s *OnChainSettler) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.SettlementReceipt, error) {
	auth := payment.Payload.Authorization

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %q", auth.Value)
	}
	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid validAfter: %w", err)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid validBefore: %w", err)
	}
	nonce, err := eip712.ParseNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}

	sig, err := common.ParseHexOrString(payment.Payload.Signature)
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("invalid settlement signature")
	}
	var r, sv [32]byte
	copy(r[:], sig[0:32])
	copy(sv[:], sig[32:64])
	v := sig[64]
	if v == 0 || v == 1 {
		v += 27
	}

	txData, err := s.abi.Pack(
		"transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		big.NewInt(validAfter),
		big.NewInt(validBefore),
		nonce,
		v,
		r,
		sv,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}

	contractAddress := common.HexToAddress(requirement.Asset)

	txNonce, err := s.client.PendingNonceAt(ctx, s.sender)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get pending nonce: %v", ErrUnavailable, err)
	}
	gasTipCap, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to suggest gas tip cap: %v", ErrUnavailable, err)
	}
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get block header: %v", ErrUnavailable, err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("network does not support EIP-1559 fees")
	}
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), gasTipCap)

	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.sender,
		To:   &contractAddress,
		Data: txData,
	})
	if err != nil {
		// Gas estimation executes the call; a revert here usually means
		// the authorization cannot transfer (replayed nonce or balance).
		return nil, classifyRevert(err)
	}
	gasLimit = gasLimit * 120 / 100

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &contractAddress,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewLondonSigner(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign settlement transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("%w: failed to send transaction: %v", ErrUnavailable, err)
	}

	receipt, err := bind.WaitMined(ctx, s.client, signedTx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: tx %s not mined before deadline", ErrTimeout, signedTx.Hash().Hex())
		}
		return nil, fmt.Errorf("%w: failed waiting for receipt: %v", ErrUnavailable, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrReverted, signedTx.Hash().Hex())
	}

	return &x402.SettlementReceipt{
		Success:     true,
		Transaction: signedTx.Hash().Hex(),
		Network:     s.network,
		Payer:       common.HexToAddress(auth.From).Hex(),
		Amount:      auth.Value,
	}, nil
}

// classifyRevert maps a gas-estimation revert onto the settlement error
// taxonomy using the revert message when one is present.
func classifyRevert(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authorization is used"), strings.Contains(msg, "nonce"):
		return fmt.Errorf("%w: %v", ErrReplayedNonce, err)
	case strings.Contains(msg, "transfer amount exceeds balance"), strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%w: gas estimation failed: %v", ErrReverted, err)
	}
}

var _ Settler = (*OnChainSettler)(nil)
