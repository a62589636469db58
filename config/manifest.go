package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

// Manifest is the deployment's market set and genesis token balances,
// decoded from YAML.
type Manifest struct {
	Markets []MarketEntry  `yaml:"markets"`
	Genesis []GenesisEntry `yaml:"genesis"`
}

// GenesisEntry funds one account on one asset ledger at first boot. Restarts
// restore balances from the state snapshot instead.
type GenesisEntry struct {
	Asset   string `yaml:"asset"`
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

// MarketEntry describes one market deployment: its principal, underlying
// asset, price ticker and interest curve.
type MarketEntry struct {
	Ticker         string        `yaml:"ticker"`
	Asset          string        `yaml:"asset"`
	Address        string        `yaml:"address"`
	FractionDigits uint32        `yaml:"fraction_digits"`
	Interest       InterestEntry `yaml:"interest"`

	InitialExchangeRateBps uint64 `yaml:"initial_exchange_rate_bps"`
	DisableTransfers       bool   `yaml:"disable_transfers"`
	MarginEnabled          bool   `yaml:"margin_enabled"`
}

// InterestEntry is the kinked curve in basis points.
type InterestEntry struct {
	KinkBps           uint64 `yaml:"kink_bps"`
	BaseRateBps       uint64 `yaml:"base_rate_bps"`
	MultiplierBps     uint64 `yaml:"multiplier_bps"`
	JumpMultiplierBps uint64 `yaml:"jump_multiplier_bps"`
	ReserveFactorBps  uint64 `yaml:"reserve_factor_bps"`
}

// LoadManifest decodes and validates the markets manifest.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{}
	if err := yaml.Unmarshal(raw, manifest); err != nil {
		return nil, fmt.Errorf("decode markets manifest: %w", err)
	}
	seen := make(map[string]struct{}, len(manifest.Markets))
	for i := range manifest.Markets {
		entry := &manifest.Markets[i]
		entry.Ticker = strings.ToUpper(strings.TrimSpace(entry.Ticker))
		if entry.Ticker == "" {
			return nil, fmt.Errorf("markets manifest: entry %d has no ticker", i)
		}
		if _, ok := seen[entry.Ticker]; ok {
			return nil, fmt.Errorf("markets manifest: duplicate ticker %s", entry.Ticker)
		}
		seen[entry.Ticker] = struct{}{}
		if strings.TrimSpace(entry.Asset) == "" {
			return nil, fmt.Errorf("markets manifest: market %s has no asset", entry.Ticker)
		}
		if strings.TrimSpace(entry.Address) == "" {
			return nil, fmt.Errorf("markets manifest: market %s has no address", entry.Ticker)
		}
		if entry.Interest.ReserveFactorBps >= 10_000 {
			return nil, fmt.Errorf("markets manifest: market %s reserve factor must stay below 1.0", entry.Ticker)
		}
	}
	assets := make(map[string]struct{}, len(manifest.Markets))
	for _, entry := range manifest.Markets {
		assets[entry.Asset] = struct{}{}
	}
	for i, entry := range manifest.Genesis {
		if _, ok := assets[entry.Asset]; !ok {
			return nil, fmt.Errorf("markets manifest: genesis entry %d funds unknown asset %s", i, entry.Asset)
		}
		if _, err := crypto.DecodeAddress(entry.Account); err != nil {
			return nil, fmt.Errorf("markets manifest: genesis entry %d account: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("markets manifest: genesis entry %d amount must be a positive integer", i)
		}
	}
	return manifest, nil
}

// Value parses the genesis amount. LoadManifest has already rejected anything
// that is not a positive integer.
func (e GenesisEntry) Value() *big.Int {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(e.Amount), 10)
	if !ok {
		return big.NewInt(0)
	}
	return amount
}

// Model builds the interest model from the manifest entry.
func (e MarketEntry) Model() interest.Model {
	return interest.Model{
		Kink:           ratio.FromBps(e.Interest.KinkBps),
		BaseRate:       ratio.FromBps(e.Interest.BaseRateBps),
		Multiplier:     ratio.FromBps(e.Interest.MultiplierBps),
		JumpMultiplier: ratio.FromBps(e.Interest.JumpMultiplierBps),
		ReserveFactor:  ratio.FromBps(e.Interest.ReserveFactorBps),
	}
}

// MarketConfig builds the market configuration from the manifest entry.
func (e MarketEntry) MarketConfig(lockTimeoutBlocks uint64) market.Config {
	cfg := market.Config{
		Ticker:            e.Ticker,
		Asset:             e.Asset,
		FractionDigits:    e.FractionDigits,
		Model:             e.Model(),
		DisableTransfers:  e.DisableTransfers,
		LockTimeoutBlocks: lockTimeoutBlocks,
		MarginEnabled:     e.MarginEnabled,
	}
	if e.InitialExchangeRateBps > 0 {
		cfg.InitialExchangeRate = ratio.FromBps(e.InitialExchangeRateBps)
	}
	return cfg
}
