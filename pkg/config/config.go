package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline variants.
const (
	VariantThreeStage = "three-stage"
	VariantFourStage  = "four-stage"
)

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	ADC        ADCConfig        `yaml:"adc"`
	Sampler    SamplerConfig    `yaml:"sampler"`
	Filter     FilterConfig     `yaml:"filter"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Controller ControllerConfig `yaml:"controller"`
	Handoff    HandoffConfig    `yaml:"handoff"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Buttons    ButtonsConfig    `yaml:"buttons"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Mock       MockConfig       `yaml:"mock"`
	Vending    VendingConfig    `yaml:"vending"`
}

// SerialConfig contains serial port configuration for the board link.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ADCConfig describes the board's analog front end.
type ADCConfig struct {
	VRefMV int `yaml:"vref_mv"` // Full-scale voltage in millivolts
	MaxRaw int `yaml:"max_raw"` // Largest valid raw reading (1023 for 10 bits)
}

// SamplerConfig contains acquisition timing.
type SamplerConfig struct {
	Period time.Duration `yaml:"period"`
	Burst  int           `yaml:"burst"` // Readings per period; the newest valid one is published
}

// FilterConfig contains the sliding-window filter parameters.
type FilterConfig struct {
	WindowSize       int `yaml:"window_size"`
	TolerancePercent int `yaml:"tolerance_percent"`
	MaxAccepted      int `yaml:"max_accepted"` // Raw values above this are kept out of the window (0 = disabled)
}

// ActuatorConfig contains PWM output parameters.
type ActuatorConfig struct {
	Period time.Duration `yaml:"period"`
}

// ControllerConfig contains the four-stage controller parameters.
type ControllerConfig struct {
	Reference     int `yaml:"reference"`      // Target luminance, 0-100
	Step          int `yaml:"step"`           // Reference change per button press
	InitialOutput int `yaml:"initial_output"` // Output before the first adjustment, 0-100
}

// HandoffConfig selects the inter-stage channel flavour.
type HandoffConfig struct {
	Kind     string `yaml:"kind"` // "queue" or "slot"
	Capacity int    `yaml:"capacity"`
}

// PipelineConfig selects the pipeline variant.
type PipelineConfig struct {
	Variant string `yaml:"variant"` // "three-stage" or "four-stage"
}

// ButtonsConfig maps physical buttons B1..B8 to host GPIO pin names.
type ButtonsConfig struct {
	Pins []string `yaml:"pins"` // Empty entries leave a button unwired
}

// TelemetryConfig contains the optional MQTT status sink.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	Topic        string `yaml:"topic"`
	ClientPrefix string `yaml:"client_prefix"`
}

// MonitorConfig contains status history parameters.
type MonitorConfig struct {
	Window time.Duration `yaml:"window"`
}

// MockConfig contains simulated board configuration.
type MockConfig struct {
	Ambient    float64 `yaml:"ambient"`     // Raw reading with the LED off
	Gain       float64 `yaml:"gain"`        // Raw reading added at 100% duty
	Noise      float64 `yaml:"noise"`       // Peak uniform noise in raw units
	SpikeEvery int     `yaml:"spike_every"` // Every Nth reading is an outlier (0 = never)
	SpikeValue uint16  `yaml:"spike_value"` // Outlier reading
	FailEvery  int     `yaml:"fail_every"`  // Every Nth read fails (0 = never)
	Seed       uint64  `yaml:"seed"`
}

// Product is an item sold by the vending machine.
type Product struct {
	Name  string `yaml:"name"`
	Price int    `yaml:"price"` // Cents
}

// VendingConfig contains the vending machine catalogue.
type VendingConfig struct {
	Products []Product `yaml:"products"`
	Coins    []int     `yaml:"coins"` // Values added by buttons B1..B4, in cents
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    115200,
			ReadTimeout: 500 * time.Millisecond,
		},
		ADC: ADCConfig{
			VRefMV: 3000,
			MaxRaw: 1023,
		},
		Sampler: SamplerConfig{
			Period: time.Second,
			Burst:  1,
		},
		Filter: FilterConfig{
			WindowSize:       10,
			TolerancePercent: 10,
			MaxAccepted:      0,
		},
		Actuator: ActuatorConfig{
			Period: 250 * time.Millisecond,
		},
		Controller: ControllerConfig{
			Reference:     50,
			Step:          10,
			InitialOutput: 0,
		},
		Handoff: HandoffConfig{
			Kind:     "queue",
			Capacity: 8,
		},
		Pipeline: PipelineConfig{
			Variant: VariantThreeStage,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Broker:       "mqtt://localhost:1883",
			Topic:        "lumen/status",
			ClientPrefix: "lumen",
		},
		Monitor: MonitorConfig{
			Window: time.Minute,
		},
		Mock: MockConfig{
			Ambient:    300,
			Gain:       500,
			Noise:      8,
			SpikeEvery: 7,
			SpikeValue: 1000,
			FailEvery:  0,
			Seed:       1,
		},
		Vending: VendingConfig{
			Products: []Product{
				{Name: "Beer", Price: 150},
				{Name: "Tuna Sandwich", Price: 100},
				{Name: "Coffee", Price: 50},
			},
			Coins: []int{10, 20, 50, 100},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values no pipeline can run with.
func (c *Config) Validate() error {
	if c.ADC.MaxRaw < 1 {
		return fmt.Errorf("adc.max_raw must be positive, got %d", c.ADC.MaxRaw)
	}
	if c.Sampler.Period <= 0 {
		return fmt.Errorf("sampler.period must be positive, got %s", c.Sampler.Period)
	}
	if c.Sampler.Burst < 1 {
		return fmt.Errorf("sampler.burst must be at least 1, got %d", c.Sampler.Burst)
	}
	if c.Filter.WindowSize < 1 {
		return fmt.Errorf("filter.window_size must be at least 1, got %d", c.Filter.WindowSize)
	}
	if c.Filter.TolerancePercent < 0 || c.Filter.TolerancePercent > 100 {
		return fmt.Errorf("filter.tolerance_percent must be within 0-100, got %d", c.Filter.TolerancePercent)
	}
	if c.Actuator.Period <= 0 {
		return fmt.Errorf("actuator.period must be positive, got %s", c.Actuator.Period)
	}
	if c.Controller.Reference < 0 || c.Controller.Reference > 100 {
		return fmt.Errorf("controller.reference must be within 0-100, got %d", c.Controller.Reference)
	}
	if c.Controller.InitialOutput < 0 || c.Controller.InitialOutput > 100 {
		return fmt.Errorf("controller.initial_output must be within 0-100, got %d", c.Controller.InitialOutput)
	}
	switch c.Handoff.Kind {
	case "queue", "slot":
	default:
		return fmt.Errorf("handoff.kind must be \"queue\" or \"slot\", got %q", c.Handoff.Kind)
	}
	if c.Handoff.Capacity < 1 {
		return fmt.Errorf("handoff.capacity must be at least 1, got %d", c.Handoff.Capacity)
	}
	switch c.Pipeline.Variant {
	case VariantThreeStage, VariantFourStage:
	default:
		return fmt.Errorf("pipeline.variant must be %q or %q, got %q", VariantThreeStage, VariantFourStage, c.Pipeline.Variant)
	}
	if len(c.Buttons.Pins) > 8 {
		return fmt.Errorf("buttons.pins supports at most 8 buttons, got %d", len(c.Buttons.Pins))
	}
	for i, p := range c.Vending.Products {
		if p.Price <= 0 {
			return fmt.Errorf("vending.products[%d] (%s) must have a positive price", i, p.Name)
		}
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.ADC.VRefMV == 0 {
		c.ADC.VRefMV = def.ADC.VRefMV
	}
	if c.ADC.MaxRaw == 0 {
		c.ADC.MaxRaw = def.ADC.MaxRaw
	}

	if c.Sampler.Period == 0 {
		c.Sampler.Period = def.Sampler.Period
	}
	if c.Sampler.Burst == 0 {
		c.Sampler.Burst = def.Sampler.Burst
	}

	if c.Filter.WindowSize == 0 {
		c.Filter.WindowSize = def.Filter.WindowSize
	}
	if c.Filter.TolerancePercent == 0 {
		c.Filter.TolerancePercent = def.Filter.TolerancePercent
	}

	if c.Actuator.Period == 0 {
		c.Actuator.Period = def.Actuator.Period
	}

	if c.Controller.Step == 0 {
		c.Controller.Step = def.Controller.Step
	}

	if c.Handoff.Kind == "" {
		c.Handoff.Kind = def.Handoff.Kind
	}
	if c.Handoff.Capacity == 0 {
		c.Handoff.Capacity = def.Handoff.Capacity
	}

	if c.Pipeline.Variant == "" {
		c.Pipeline.Variant = def.Pipeline.Variant
	}

	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = def.Telemetry.Topic
	}
	if c.Telemetry.ClientPrefix == "" {
		c.Telemetry.ClientPrefix = def.Telemetry.ClientPrefix
	}

	if c.Monitor.Window == 0 {
		c.Monitor.Window = def.Monitor.Window
	}

	if len(c.Vending.Products) == 0 {
		c.Vending.Products = def.Vending.Products
	}
	if len(c.Vending.Coins) == 0 {
		c.Vending.Coins = def.Vending.Coins
	}
}
