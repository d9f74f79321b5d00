package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/config"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("invalid transfer amount")
)

// Transferrer 链上转账接口
type Transferrer interface {
	// Transfer 从分发账户向 recipient 划转 amount 个 currency 代币,
	// 返回链上交易签名; memoText 作为 memo 指令附在交易上。
	Transfer(ctx context.Context, recipient string, amount decimal.Decimal, currency, memoText string) (string, error)
}

// Client Solana 链客户端
//
// 持有分发账户私钥, 负责 SPL token 划转: 目标 ATA 不存在时在同一笔
// 交易内先创建, 再执行 transfer-checked, 最后附 memo。
type Client struct {
	rpc      *rpc.Client
	signer   solanago.PrivateKey
	mints    map[string]solanago.PublicKey
	decimals uint8
}

// NewClient 创建 Solana 链客户端
func NewClient(cfg *config.SolanaConfig) (*Client, error) {
	signer, err := solanago.PrivateKeyFromBase58(cfg.DistributionPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse distribution key: %w", err)
	}

	mints := make(map[string]solanago.PublicKey, len(cfg.Mints))
	for currency, addr := range cfg.Mints {
		mint, err := solanago.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("parse mint for %s: %w", currency, err)
		}
		mints[strings.ToUpper(currency)] = mint
	}
	if len(mints) == 0 {
		return nil, errors.New("no token mints configured")
	}

	logger.Info("solana client initialized",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("distribution_account", signer.PublicKey().String()),
		zap.Int("mints", len(mints)))

	return &Client{
		rpc:      rpc.New(cfg.RPCURL),
		signer:   signer,
		mints:    mints,
		decimals: uint8(cfg.TokenDecimals),
	}, nil
}

// MintFor 返回货币对应的 SPL token mint
func (c *Client) MintFor(currency string) (solanago.PublicKey, error) {
	mint, ok := c.mints[strings.ToUpper(currency)]
	if !ok {
		return solanago.PublicKey{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return mint, nil
}

// Transfer 执行 SPL token 划转
func (c *Client) Transfer(ctx context.Context, recipient string, amount decimal.Decimal, currency, memoText string) (string, error) {
	mint, err := c.MintFor(currency)
	if err != nil {
		return "", err
	}

	baseUnits, err := c.toBaseUnits(amount)
	if err != nil {
		return "", err
	}

	recipientKey, err := solanago.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("parse recipient address: %w", err)
	}

	owner := c.signer.PublicKey()
	sourceATA, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", fmt.Errorf("derive source token account: %w", err)
	}
	destATA, _, err := solanago.FindAssociatedTokenAddress(recipientKey, mint)
	if err != nil {
		return "", fmt.Errorf("derive destination token account: %w", err)
	}

	var instructions []solanago.Instruction

	exists, err := c.accountExists(ctx, destATA)
	if err != nil {
		return "", fmt.Errorf("check destination token account: %w", err)
	}
	if !exists {
		instructions = append(instructions,
			ata.NewCreateInstruction(owner, recipientKey, mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferCheckedInstruction(
			baseUnits,
			c.decimals,
			sourceATA,
			mint,
			destATA,
			owner,
			nil,
		).Build())

	if memoText != "" {
		instructions = append(instructions,
			memo.NewMemoInstruction([]byte(memoText), owner).Build())
	}

	blockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solanago.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solanago.TransactionPayer(owner),
	)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(owner) {
			return &c.signer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	logger.Info("token transfer submitted",
		zap.String("signature", sig.String()),
		zap.String("recipient", recipient),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.Bool("created_ata", !exists))

	return sig.String(), nil
}

// toBaseUnits 把十进制数额换算成代币最小单位
func (c *Client) toBaseUnits(amount decimal.Decimal) (uint64, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	shifted := amount.Shift(int32(c.decimals))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidAmount, amount, c.decimals)
	}
	base := shifted.BigInt()
	if !base.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows base units", ErrInvalidAmount, amount)
	}
	return base.Uint64(), nil
}

func (c *Client) accountExists(ctx context.Context, account solanago.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ Transferrer = (*Client)(nil)
