// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/alerting"
	"github.com/tathienbao/position-engine/internal/engine"
	"github.com/tathienbao/position-engine/internal/execution"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/risk"
	"github.com/tathienbao/position-engine/internal/session"
	"github.com/tathienbao/position-engine/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Market      MarketConfig      `yaml:"market"`
	Position    PositionConfig    `yaml:"position"`
	Plan        PlanConfig        `yaml:"plan"`
	Venue       VenueConfig       `yaml:"venue"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// InstrumentConfig selects the traded contract. Tick overrides replace the
// built-in contract terms when set.
type InstrumentConfig struct {
	Symbol     string  `yaml:"symbol"`
	TickSize   float64 `yaml:"tick_size"`
	TickValue  float64 `yaml:"tick_value"`
	PointValue float64 `yaml:"point_value"`
}

// MarketConfig holds session settings.
type MarketConfig struct {
	Timezone              string `yaml:"timezone"`
	SessionClose          string `yaml:"session_close"` // HH:MM local
	SessionCloseCutoffMin int    `yaml:"session_close_cutoff_min"`
	TradeWeekends         bool   `yaml:"trade_weekends"`
}

// PositionConfig holds position manager settings.
type PositionConfig struct {
	MinQuantity            int64  `yaml:"min_quantity"`
	SlippageToleranceTicks int    `yaml:"slippage_tolerance_ticks"`
	SessionEndPolicy       string `yaml:"session_end_policy"` // flatten | leave_working
	StopLimitOffsetTicks   int    `yaml:"stop_limit_offset_ticks"`
}

// PlanConfig scripts the entry used by replay.
type PlanConfig struct {
	Side             string `yaml:"side"`       // long | short
	OrderKind        string `yaml:"order_kind"` // market | limit | stop
	Quantity         int64  `yaml:"quantity"`
	EntryOffsetTicks int    `yaml:"entry_offset_ticks"`
	StopLossTicks    int    `yaml:"stop_loss_ticks"`
	TakeProfitTicks  int    `yaml:"take_profit_ticks"`
	MaxTrades        int    `yaml:"max_trades"`
	// RiskPerTradePct sizes entries from equity when set; quantity caps it.
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
}

// VenueConfig holds simulated venue settings.
type VenueConfig struct {
	SlippageTicks         int     `yaml:"slippage_ticks"`
	CommissionPerContract float64 `yaml:"commission_per_contract"`
	MaxOrdersPerSecond    int     `yaml:"max_orders_per_second"`
	Burst                 int     `yaml:"burst"`
	MaxFillQuantity       int64   `yaml:"max_fill_quantity"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite | postgres
	Path    string `yaml:"path"` // for sqlite
	DSN     string `yaml:"dsn"`  // for postgres
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled     bool            `yaml:"enabled"`
	MinSeverity string          `yaml:"min_severity"` // info | warning | error
	Channels    []ChannelConfig `yaml:"channels"`
	Events      []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type        string `yaml:"type"` // console | telegram
	BotToken    string `yaml:"bot_token"`
	ChatID      int64  `yaml:"chat_id"`
	MinSeverity string `yaml:"min_severity"` // info | warning | high | critical
}

// Floor returns the lowest alert severity the channel receives.
func (ch ChannelConfig) Floor() alerting.Severity {
	sev, _ := alerting.ParseSeverity(ch.MinSeverity)
	return sev
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         int    `yaml:"port"`
	Path         string `yaml:"path"`
	EventsPath   string `yaml:"events_path"`
	PositionPath string `yaml:"position_path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec        int  `yaml:"timeout_sec"`
	FlattenOnShutdown bool `yaml:"flatten_on_shutdown"`
}

// Load loads configuration from a YAML file. A .env file next to the config
// or in the working directory is applied first; existing variables win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	for _, envFile := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Instrument: InstrumentConfig{Symbol: "MES"},
		Market: MarketConfig{
			Timezone:              "America/Chicago",
			SessionClose:          "16:00",
			SessionCloseCutoffMin: 15,
		},
		Position: PositionConfig{
			MinQuantity:            1,
			SlippageToleranceTicks: 4,
			SessionEndPolicy:       "flatten",
		},
		Plan: PlanConfig{
			Side:            "long",
			OrderKind:       "market",
			Quantity:        1,
			StopLossTicks:   8,
			TakeProfitTicks: 16,
		},
		Venue: VenueConfig{
			SlippageTicks:         1,
			CommissionPerContract: 0.62,
			MaxOrdersPerSecond:    10,
			Burst:                 10,
		},
		Metrics: MetricsConfig{
			Port:         9090,
			Path:         "/metrics",
			EventsPath:   "/events",
			PositionPath: "/position",
		},
		Shutdown: ShutdownConfig{
			TimeoutSec:        30,
			FlattenOnShutdown: true,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Instrument validation
	if c.Instrument.Symbol == "" {
		errs = append(errs, "instrument.symbol is required")
	} else if _, ok := types.GetInstrumentSpec(c.Instrument.Symbol); !ok && c.Instrument.TickSize <= 0 {
		errs = append(errs, fmt.Sprintf("instrument.symbol '%s' is not supported without tick_size", c.Instrument.Symbol))
	}
	if c.Instrument.TickSize < 0 || c.Instrument.TickValue < 0 || c.Instrument.PointValue < 0 {
		errs = append(errs, "instrument tick overrides must not be negative")
	}

	// Market validation
	if _, err := c.Calendar(); err != nil {
		errs = append(errs, fmt.Sprintf("market: %v", unwrapConfig(err)))
	}

	// Position validation
	if c.Position.MinQuantity < 1 {
		errs = append(errs, "position.min_quantity must be at least 1")
	}
	if _, ok := position.ParseSessionEndPolicy(c.Position.SessionEndPolicy); !ok {
		errs = append(errs, "position.session_end_policy must be 'flatten' or 'leave_working'")
	}
	if c.Position.StopLimitOffsetTicks < 0 {
		errs = append(errs, "position.stop_limit_offset_ticks must not be negative")
	}

	// Plan validation
	if _, ok := types.ParseSide(c.Plan.Side); !ok {
		errs = append(errs, fmt.Sprintf("plan.side '%s' must be long or short", c.Plan.Side))
	}
	if kind, ok := types.ParseOrderKind(c.Plan.OrderKind); !ok || kind == types.OrderKindStopLimit {
		errs = append(errs, fmt.Sprintf("plan.order_kind '%s' must be market, limit or stop", c.Plan.OrderKind))
	}
	if c.Plan.Quantity < c.Position.MinQuantity {
		errs = append(errs, "plan.quantity must be at least position.min_quantity")
	}
	if c.Plan.StopLossTicks < 0 || c.Plan.TakeProfitTicks < 0 || c.Plan.EntryOffsetTicks < 0 {
		errs = append(errs, "plan tick distances must not be negative")
	}
	if c.Plan.RiskPerTradePct < 0 || c.Plan.RiskPerTradePct > risk.MaxRiskPerTrade.InexactFloat64() {
		errs = append(errs, "plan.risk_per_trade_pct must be between 0 and 0.1 (10%)")
	}
	if c.Plan.RiskPerTradePct > 0 && c.Plan.StopLossTicks <= 0 {
		errs = append(errs, "plan.risk_per_trade_pct needs plan.stop_loss_ticks")
	}
	if c.Plan.MaxTrades < 0 {
		errs = append(errs, "plan.max_trades must not be negative")
	}

	// Venue validation
	if c.Venue.SlippageTicks < 0 {
		errs = append(errs, "venue.slippage_ticks must not be negative")
	}
	if c.Venue.CommissionPerContract < 0 {
		errs = append(errs, "venue.commission_per_contract must not be negative")
	}
	if c.Venue.MaxOrdersPerSecond < 0 || c.Venue.MaxFillQuantity < 0 {
		errs = append(errs, "venue limits must not be negative")
	}

	// Persistence validation
	if c.Persistence.Enabled {
		if c.Persistence.Type != "sqlite" && c.Persistence.Type != "postgres" {
			errs = append(errs, "persistence.type must be 'sqlite' or 'postgres'")
		}
		if c.Persistence.Type == "sqlite" && c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
		if c.Persistence.Type == "postgres" && c.Persistence.DSN == "" {
			errs = append(errs, "persistence.dsn is required for postgres")
		}
	}

	// Alerting validation
	if c.Alerting.Enabled {
		if _, ok := parseSeverity(c.Alerting.MinSeverity); !ok {
			errs = append(errs, "alerting.min_severity must be info, warning or error")
		}
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == 0 {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram needs bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].type '%s' must be console or telegram", i, ch.Type))
			}
			if _, ok := alerting.ParseSeverity(ch.MinSeverity); !ok {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].min_severity '%s' must be info, warning, high or critical", i, ch.MinSeverity))
			}
		}
		for _, e := range c.Alerting.Events {
			if e != "all" && !alerting.IsKnownEvent(e) {
				errs = append(errs, fmt.Sprintf("alerting.events: unknown event '%s' (known: %s)", e, strings.Join(alerting.KnownEvents(), ", ")))
			}
		}
	}

	// Metrics validation
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled {
		paths := map[string]string{
			"path":          c.Metrics.Path,
			"events_path":   c.Metrics.EventsPath,
			"position_path": c.Metrics.PositionPath,
		}
		seen := make(map[string]string, len(paths))
		for _, key := range []string{"path", "events_path", "position_path"} {
			p := paths[key]
			if !strings.HasPrefix(p, "/") {
				errs = append(errs, fmt.Sprintf("metrics.%s must start with /", key))
				continue
			}
			if prev, dup := seen[p]; dup {
				errs = append(errs, fmt.Sprintf("metrics.%s duplicates metrics.%s", key, prev))
			}
			seen[p] = key
		}
	}

	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30 // default
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// Instrument returns the contract terms with overrides applied.
func (c *Config) Instrument() types.InstrumentSpec {
	spec, ok := types.GetInstrumentSpec(c.Instrument.Symbol)
	if !ok {
		spec = types.InstrumentSpec{Symbol: c.Instrument.Symbol}
	}
	if c.Instrument.TickSize > 0 {
		spec.TickSize = decimal.NewFromFloat(c.Instrument.TickSize)
	}
	if c.Instrument.TickValue > 0 {
		spec.TickValue = decimal.NewFromFloat(c.Instrument.TickValue)
	}
	if c.Instrument.PointValue > 0 {
		spec.PointValue = decimal.NewFromFloat(c.Instrument.PointValue)
	}
	if !ok && spec.PointValue.IsZero() && spec.TickSize.IsPositive() {
		spec.PointValue = spec.TickValue.Div(spec.TickSize)
	}
	return spec
}

// ToPositionConfig converts to position.Config.
func (c *Config) ToPositionConfig() position.Config {
	policy, _ := position.ParseSessionEndPolicy(c.Position.SessionEndPolicy)
	return position.Config{
		Instrument:             c.Instrument(),
		MinQuantity:            c.Position.MinQuantity,
		SlippageToleranceTicks: c.Position.SlippageToleranceTicks,
		SessionEndPolicy:       policy,
		StopLimitOffsetTicks:   c.Position.StopLimitOffsetTicks,
	}
}

// ToVenueConfig converts to execution.SimulatedConfig.
func (c *Config) ToVenueConfig() execution.SimulatedConfig {
	return execution.SimulatedConfig{
		Instrument:      c.Instrument(),
		SlippageTicks:   c.Venue.SlippageTicks,
		OrdersPerSecond: c.Venue.MaxOrdersPerSecond,
		Burst:           c.Venue.Burst,
		MaxFillQuantity: c.Venue.MaxFillQuantity,
	}
}

// ToPlan converts to engine.Plan.
func (c *Config) ToPlan() engine.Plan {
	side, _ := types.ParseSide(c.Plan.Side)
	kind, _ := types.ParseOrderKind(c.Plan.OrderKind)
	return engine.Plan{
		Side:             side,
		Kind:             kind,
		Quantity:         c.Plan.Quantity,
		EntryOffsetTicks: c.Plan.EntryOffsetTicks,
		StopLossTicks:    c.Plan.StopLossTicks,
		TakeProfitTicks:  c.Plan.TakeProfitTicks,
		MaxTrades:        c.Plan.MaxTrades,
		RiskPerTrade:     decimal.NewFromFloat(c.Plan.RiskPerTradePct),
	}
}

// Calendar builds the session calendar.
func (c *Config) Calendar() (*session.Calendar, error) {
	cutoff := time.Duration(c.Market.SessionCloseCutoffMin) * time.Minute
	cal, err := session.NewCalendar(c.Market.Timezone, c.Market.SessionClose, cutoff)
	if err != nil {
		return nil, err
	}
	cal.TradeWeekends = c.Market.TradeWeekends
	return cal, nil
}

// Fees returns the commission model.
func (c *Config) Fees() position.PerContractFee {
	return position.PerContractFee{PerSide: decimal.NewFromFloat(c.Venue.CommissionPerContract)}
}

// MinAlertSeverity returns the lowest diagnostic severity that is alerted.
func (c *Config) MinAlertSeverity() position.Severity {
	sev, _ := parseSeverity(c.Alerting.MinSeverity)
	return sev
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}

func parseSeverity(s string) (position.Severity, bool) {
	switch strings.ToLower(s) {
	case "", "warning", "warn":
		return position.SeverityWarning, true
	case "info":
		return position.SeverityInfo, true
	case "error":
		return position.SeverityError, true
	default:
		return position.SeverityInfo, false
	}
}

// unwrapConfig drops the sentinel prefix so nested messages read once.
func unwrapConfig(err error) string {
	return strings.TrimPrefix(err.Error(), types.ErrInvalidConfig.Error()+": ")
}
