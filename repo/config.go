package repo

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core"
	"github.com/axiomesh/allocator/core/amount"
)

type Config struct {
	RepoRoot  string    `mapstructure:"-" toml:"-"`
	DialUrl   string    `mapstructure:"dial_url" toml:"dial_url"`
	ChainID   uint64    `mapstructure:"chain_id" toml:"chain_id"`
	Mechanism Mechanism `mapstructure:"mechanism" toml:"mechanism"`
	Log       Log       `mapstructure:"log" toml:"log"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type Mechanism struct {
	Name    string `mapstructure:"name" toml:"name"`
	Symbol  string `mapstructure:"symbol" toml:"symbol"`
	Version string `mapstructure:"version" toml:"version"`

	// identity of the mechanism, it holds the pool and is the verifying
	// contract of signed messages
	Address       string `mapstructure:"address" toml:"address"`
	Asset         string `mapstructure:"asset" toml:"asset"`
	AssetDecimals uint8  `mapstructure:"asset_decimals" toml:"asset_decimals"`

	// unix seconds, 0 means the time of init
	StartTime     int64         `mapstructure:"start_time" toml:"start_time"`
	VotingDelay   time.Duration `mapstructure:"voting_delay" toml:"voting_delay"`
	VotingPeriod  time.Duration `mapstructure:"voting_period" toml:"voting_period"`
	TimelockDelay time.Duration `mapstructure:"timelock_delay" toml:"timelock_delay"`
	GracePeriod   time.Duration `mapstructure:"grace_period" toml:"grace_period"`

	// decimal or 0x hex
	QuorumShares string `mapstructure:"quorum_shares" toml:"quorum_shares"`

	Owner      string `mapstructure:"owner" toml:"owner"`
	Management string `mapstructure:"management" toml:"management"`
	Keeper     string `mapstructure:"keeper" toml:"keeper"`

	AlphaNumerator   string `mapstructure:"alpha_numerator" toml:"alpha_numerator"`
	AlphaDenominator string `mapstructure:"alpha_denominator" toml:"alpha_denominator"`
	ToleranceDivisor uint64 `mapstructure:"tolerance_divisor" toml:"tolerance_divisor"`
	DirectTransfer   bool   `mapstructure:"direct_transfer" toml:"direct_transfer"`

	// open, allowlist or denylist
	AccessMode string `mapstructure:"access_mode" toml:"access_mode"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		DialUrl:  "",
		ChainID:  1356,
		Mechanism: Mechanism{
			Name:             "Allocation",
			Symbol:           "ALLOC",
			Version:          core.DefaultVersion,
			Address:          DefaultMechanismAddr,
			Asset:            DefaultAssetAddr,
			AssetDecimals:    18,
			VotingDelay:      time.Hour,
			VotingPeriod:     7 * 24 * time.Hour,
			TimelockDelay:    24 * time.Hour,
			GracePeriod:      14 * 24 * time.Hour,
			QuorumShares:     "1000000000000000000",
			Owner:            DefaultOwnerAddr,
			AlphaNumerator:   "1",
			AlphaDenominator: "1",
			ToleranceDivisor: 10,
			AccessMode:       "open",
		},
		Log: Log{
			Level:        "info",
			Filename:     "allocator.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
	}
}

// MechanismConfig converts the mechanism section into a validated
// core.Config.
func (c *Config) MechanismConfig() (core.Config, error) {
	m := c.Mechanism
	cfg := core.Config{
		Name:          m.Name,
		Symbol:        m.Symbol,
		Version:       m.Version,
		AssetDecimals: m.AssetDecimals,
		VotingDelay:   m.VotingDelay,
		VotingPeriod:  m.VotingPeriod,
		TimelockDelay: m.TimelockDelay,
		GracePeriod:   m.GracePeriod,
	}
	if m.StartTime > 0 {
		cfg.StartTime = time.Unix(m.StartTime, 0)
	}

	var err error
	addresses := []struct {
		name     string
		value    string
		optional bool
		target   *common.Address
	}{
		{"address", m.Address, false, &cfg.Address},
		{"asset", m.Asset, false, &cfg.Asset},
		{"owner", m.Owner, false, &cfg.Owner},
		{"management", m.Management, true, &cfg.Management},
		{"keeper", m.Keeper, true, &cfg.Keeper},
	}
	for _, a := range addresses {
		if a.value == "" && a.optional {
			continue
		}
		if !common.IsHexAddress(a.value) {
			return core.Config{}, errors.Wrapf(core.ErrInvalidConfig, "mechanism.%s: invalid address %q", a.name, a.value)
		}
		*a.target = common.HexToAddress(a.value)
	}
	if cfg.QuorumShares, err = amount.Parse(m.QuorumShares); err != nil {
		return core.Config{}, errors.Wrapf(core.ErrInvalidConfig, "mechanism.quorum_shares: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}
