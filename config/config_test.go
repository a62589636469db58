package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.RPCAddress)
	require.Equal(t, uint64(10), cfg.LockTimeoutBlocks)
	require.Equal(t, uint64(10_000), cfg.HealthFactorThresholdBps)
	require.FileExists(t, path)

	// a second load reads the persisted file
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, again.RPCAddress)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("AdminAddress = \"not-bech32\"\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsReserveFactorAtOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ReserveFactorBps = 10000\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

const manifestFixture = `
markets:
  - ticker: wnear
    asset: wrap.near
    address: ct1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq5e7sf5
    fraction_digits: 4
    interest:
      kink_bps: 8000
      base_rate_bps: 0
      multiplier_bps: 100
      jump_multiplier_bps: 1000
      reserve_factor_bps: 500
  - ticker: usdt
    asset: usdt.near
    address: ct1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqpqxcmvcr
    fraction_digits: 4
    margin_enabled: true
    interest:
      kink_bps: 9000
      base_rate_bps: 10
      multiplier_bps: 50
      jump_multiplier_bps: 2000
      reserve_factor_bps: 1000
`

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestFixture), 0o600))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, manifest.Markets, 2)
	require.Equal(t, "WNEAR", manifest.Markets[0].Ticker)

	model := manifest.Markets[0].Model()
	require.Equal(t, 0, model.Kink.Cmp(ratio.FromBps(8_000)))
	require.Equal(t, 0, model.ReserveFactor.Cmp(ratio.FromBps(500)))

	cfg := manifest.Markets[1].MarketConfig(10)
	require.True(t, cfg.MarginEnabled)
	require.Equal(t, "usdt.near", cfg.Asset)
	require.Equal(t, uint64(10), cfg.LockTimeoutBlocks)
}

func TestLoadManifestGenesis(t *testing.T) {
	account := crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20)).String()
	fixture := manifestFixture + fmt.Sprintf(`
genesis:
  - asset: usdt.near
    account: %s
    amount: "1000000"
`, account)
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, manifest.Genesis, 1)
	require.Equal(t, "usdt.near", manifest.Genesis[0].Asset)
	require.Equal(t, big.NewInt(1_000_000), manifest.Genesis[0].Value())
}

func TestLoadManifestRejectsBadGenesis(t *testing.T) {
	account := crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20)).String()
	cases := map[string]string{
		"unknown asset": `
genesis:
  - asset: doge.near
    account: ` + account + `
    amount: "10"
`,
		"bad account": `
genesis:
  - asset: usdt.near
    account: not-bech32
    amount: "10"
`,
		"zero amount": `
genesis:
  - asset: usdt.near
    account: ` + account + `
    amount: "0"
`,
	}
	for name, genesis := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "markets.yaml")
			require.NoError(t, os.WriteFile(path, []byte(manifestFixture+genesis), 0o600))
			_, err := LoadManifest(path)
			require.Error(t, err)
		})
	}
}

func TestLoadManifestRejectsDuplicates(t *testing.T) {
	dup := `
markets:
  - ticker: usdt
    asset: a.near
    address: x
  - ticker: usdt
    asset: b.near
    address: y
`
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(dup), 0o600))
	_, err := LoadManifest(path)
	require.Error(t, err)
}
