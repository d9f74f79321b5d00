package solana

import (
	"context"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykobo/anchor-solana/internal/config"
)

const (
	testEURCMint = "HzwqbKZw8HxMN6bF2yFZNrht3c2iXXzpKcFu7uBEDKtr"
	testUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func testClientConfig(t *testing.T) *config.SolanaConfig {
	t.Helper()
	wallet := solanago.NewWallet()
	return &config.SolanaConfig{
		RPCURL:                 "http://localhost:8899",
		DistributionPrivateKey: wallet.PrivateKey.String(),
		Mints: map[string]string{
			"eurc": testEURCMint,
			"USDC": testUSDCMint,
		},
		TokenDecimals: 6,
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(testClientConfig(t))
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, uint8(6), client.decimals)
}

func TestNewClient_InvalidKey(t *testing.T) {
	cfg := testClientConfig(t)
	cfg.DistributionPrivateKey = "not-a-key"
	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestNewClient_InvalidMint(t *testing.T) {
	cfg := testClientConfig(t)
	cfg.Mints = map[string]string{"EURC": "bogus"}
	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestNewClient_NoMints(t *testing.T) {
	cfg := testClientConfig(t)
	cfg.Mints = nil
	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestMintFor(t *testing.T) {
	client, err := NewClient(testClientConfig(t))
	require.NoError(t, err)

	// 货币代码大小写不敏感
	for _, currency := range []string{"EURC", "eurc", "Eurc"} {
		mint, err := client.MintFor(currency)
		require.NoError(t, err)
		assert.Equal(t, testEURCMint, mint.String())
	}

	mint, err := client.MintFor("USDC")
	require.NoError(t, err)
	assert.Equal(t, testUSDCMint, mint.String())
}

func TestMintFor_Unsupported(t *testing.T) {
	client, err := NewClient(testClientConfig(t))
	require.NoError(t, err)

	_, err = client.MintFor("GBPC")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestTransfer_UnsupportedCurrency(t *testing.T) {
	client, err := NewClient(testClientConfig(t))
	require.NoError(t, err)

	// mint 查表失败在任何 RPC 调用之前返回
	_, err = client.Transfer(context.Background(), solanago.NewWallet().PublicKey().String(),
		decimal.NewFromFloat(10.5), "GBPC", "MYK999")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestToBaseUnits(t *testing.T) {
	client, err := NewClient(testClientConfig(t))
	require.NoError(t, err)

	tests := []struct {
		name    string
		amount  decimal.Decimal
		want    uint64
		wantErr error
	}{
		{"whole", decimal.NewFromInt(100), 100_000_000, nil},
		{"fractional", decimal.RequireFromString("99.25"), 99_250_000, nil},
		{"smallest unit", decimal.RequireFromString("0.000001"), 1, nil},
		{"zero", decimal.Zero, 0, ErrInvalidAmount},
		{"negative", decimal.NewFromInt(-5), 0, ErrInvalidAmount},
		{"below smallest unit", decimal.RequireFromString("0.0000001"), 0, ErrInvalidAmount},
		// 2^64 基础单位, 刚好溢出 uint64
		{"overflows base units", decimal.RequireFromString("18446744073709.551616"), 0, ErrInvalidAmount},
		{"far beyond uint64", decimal.RequireFromString("99999999999999999999.999999"), 0, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.toBaseUnits(tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
