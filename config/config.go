package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vadiminshakov/pandamarket/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPAddr      = ":8000"
	DefaultWALDir        = "./wal/market"
	DefaultStateDir      = "./wal/simulate"
	DefaultSnapshotEvery = 500
	// DefaultFeeBps matches the 5% fee the marketplace was first deployed with.
	DefaultFeeBps = 500
)

// Config is the validated daemon configuration.
type Config struct {
	Operator      common.Address
	Address       common.Address
	FeeRate       domain.FeeRate
	SnapshotEvery int

	WALDir              string
	WALSegmentThreshold int
	WALMaxSegments      int
	StateDir            string

	HTTPAddr    string
	TLSDomains  []string
	TLSCacheDir string

	Debug bool

	Collections []Collection
	Assets      []Asset
}

// Collection royalty terms of a collection.
type Collection struct {
	Address         common.Address
	Name            string
	RoyaltyReceiver common.Address
	RoyaltyRate     domain.FeeRate
}

// Asset is registered in the custody registry on first start.
type Asset struct {
	Key           domain.AssetKey
	Owner         common.Address
	ApproveMarket bool
}

// ConfigTmp is the raw YAML form; numbers and addresses stay strings until validated.
type ConfigTmp struct {
	Operator              string          `yaml:"operator"`
	MarketAddress         string          `yaml:"market_address,omitempty"`
	PlatformFeeBpsStr     string          `yaml:"platform_fee_bps,omitempty"`
	PlatformFeePercentStr string          `yaml:"platform_fee_percent,omitempty"`
	SnapshotEveryStr      string          `yaml:"snapshot_every,omitempty"`
	WALDir                string          `yaml:"wal_dir,omitempty"`
	WALSegmentThreshold   int             `yaml:"wal_segment_threshold,omitempty"`
	WALMaxSegments        int             `yaml:"wal_max_segments,omitempty"`
	StateDir              string          `yaml:"state_dir,omitempty"`
	HTTPAddr              string          `yaml:"http_addr,omitempty"`
	TLSDomains            []string        `yaml:"tls_domains,omitempty"`
	TLSCacheDir           string          `yaml:"tls_cache_dir,omitempty"`
	Debug                 bool            `yaml:"debug,omitempty"`
	Collections           []CollectionTmp `yaml:"collections,omitempty"`
	Assets                []AssetTmp      `yaml:"assets,omitempty"`
}

type CollectionTmp struct {
	Address         string `yaml:"address"`
	Name            string `yaml:"name,omitempty"`
	RoyaltyReceiver string `yaml:"royalty_receiver,omitempty"`
	RoyaltyBpsStr   string `yaml:"royalty_bps,omitempty"`
}

type AssetTmp struct {
	Collection    string `yaml:"collection"`
	TokenID       string `yaml:"token_id"`
	Owner         string `yaml:"owner"`
	ApproveMarket bool   `yaml:"approve_market,omitempty"`
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
	}
	return tmp.Build()
}

// Build validates the raw values and applies defaults.
func (c ConfigTmp) Build() (Config, error) {
	operator, err := parseAddress("operator", c.Operator)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Operator:            operator,
		SnapshotEvery:       DefaultSnapshotEvery,
		WALDir:              valueOr(c.WALDir, DefaultWALDir),
		WALSegmentThreshold: c.WALSegmentThreshold,
		WALMaxSegments:      c.WALMaxSegments,
		StateDir:            valueOr(c.StateDir, DefaultStateDir),
		HTTPAddr:            valueOr(c.HTTPAddr, DefaultHTTPAddr),
		TLSDomains:          c.TLSDomains,
		TLSCacheDir:         c.TLSCacheDir,
		Debug:               c.Debug,
	}

	// market_address defaults to the operator account.
	cfg.Address = operator
	if c.MarketAddress != "" {
		if cfg.Address, err = parseAddress("market_address", c.MarketAddress); err != nil {
			return Config{}, err
		}
	}

	switch {
	case c.PlatformFeeBpsStr != "" && c.PlatformFeePercentStr != "":
		return Config{}, fmt.Errorf("only one of 'platform_fee_bps' and 'platform_fee_percent' may be set")
	case c.PlatformFeeBpsStr != "":
		if cfg.FeeRate, err = parseBps(c.PlatformFeeBpsStr); err != nil {
			return Config{}, fmt.Errorf("incorrect 'platform_fee_bps' param in yaml config: %w", err)
		}
	case c.PlatformFeePercentStr != "":
		if cfg.FeeRate, err = domain.FeeRateFromPercent(c.PlatformFeePercentStr); err != nil {
			return Config{}, fmt.Errorf("incorrect 'platform_fee_percent' param in yaml config: %w", err)
		}
	default:
		cfg.FeeRate = DefaultFeeBps
	}

	if c.SnapshotEveryStr != "" {
		n, err := strconv.Atoi(c.SnapshotEveryStr)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("incorrect 'snapshot_every' param in yaml config (must be a positive integer): %s", c.SnapshotEveryStr)
		}
		cfg.SnapshotEvery = n
	}

	seen := make(map[common.Address]bool, len(c.Collections))
	for i, col := range c.Collections {
		collection, err := col.build()
		if err != nil {
			return Config{}, fmt.Errorf("collections[%d]: %w", i, err)
		}
		if seen[collection.Address] {
			return Config{}, fmt.Errorf("collections[%d]: duplicate collection %s", i, collection.Address.Hex())
		}
		seen[collection.Address] = true
		cfg.Collections = append(cfg.Collections, collection)
	}

	for i, a := range c.Assets {
		asset, err := a.build()
		if err != nil {
			return Config{}, fmt.Errorf("assets[%d]: %w", i, err)
		}
		cfg.Assets = append(cfg.Assets, asset)
	}

	return cfg, nil
}

func (c CollectionTmp) build() (Collection, error) {
	address, err := parseAddress("address", c.Address)
	if err != nil {
		return Collection{}, err
	}
	out := Collection{Address: address, Name: c.Name}
	if c.RoyaltyBpsStr == "" {
		return out, nil
	}

	if out.RoyaltyRate, err = parseBps(c.RoyaltyBpsStr); err != nil {
		return Collection{}, fmt.Errorf("incorrect 'royalty_bps': %w", err)
	}
	if out.RoyaltyRate > 0 {
		if out.RoyaltyReceiver, err = parseAddress("royalty_receiver", c.RoyaltyReceiver); err != nil {
			return Collection{}, err
		}
	}
	return out, nil
}

func (a AssetTmp) build() (Asset, error) {
	key, err := domain.ParseAssetKey(a.Collection, a.TokenID)
	if err != nil {
		return Asset{}, err
	}
	owner, err := parseAddress("owner", a.Owner)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Key: key, Owner: owner, ApproveMarket: a.ApproveMarket}, nil
}

func parseAddress(name, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, fmt.Errorf("'%s' is required", name)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("incorrect '%s' address: %s", name, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("'%s' must not be the zero address", name)
	}
	return addr, nil
}

func parseBps(value string) (domain.FeeRate, error) {
	bps, err := uint256.FromDecimal(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if !bps.IsUint64() {
		return 0, domain.ErrInvalidFeeRate
	}
	return domain.NewFeeRate(bps.Uint64())
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	return getYaml(path)
}
