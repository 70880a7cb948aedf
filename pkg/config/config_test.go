package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "test_config_*.yaml")
	require.NoError(t, err)
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 3000, cfg.ADC.VRefMV)
	assert.Equal(t, 1023, cfg.ADC.MaxRaw)
	assert.Equal(t, time.Second, cfg.Sampler.Period)
	assert.Equal(t, 10, cfg.Filter.WindowSize)
	assert.Equal(t, 10, cfg.Filter.TolerancePercent)
	assert.Equal(t, 250*time.Millisecond, cfg.Actuator.Period)
	assert.Equal(t, 50, cfg.Controller.Reference)
	assert.Equal(t, "queue", cfg.Handoff.Kind)
	assert.Equal(t, VariantThreeStage, cfg.Pipeline.Variant)
	assert.Len(t, cfg.Vending.Products, 3)
	assert.Equal(t, []int{10, 20, 50, 100}, cfg.Vending.Coins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyUSB1"
  read_timeout: 200ms

sampler:
  period: 500ms
  burst: 3

filter:
  window_size: 10
  tolerance_percent: 10
  max_accepted: 900

actuator:
  period: 25ms

controller:
  reference: 70
  step: 5

handoff:
  kind: slot

pipeline:
  variant: four-stage

buttons:
  pins: ["GPIO5", "GPIO6", "", "GPIO13"]
`)

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sampler.Period)
	assert.Equal(t, 3, cfg.Sampler.Burst)
	assert.Equal(t, 900, cfg.Filter.MaxAccepted)
	assert.Equal(t, 25*time.Millisecond, cfg.Actuator.Period)
	assert.Equal(t, 70, cfg.Controller.Reference)
	assert.Equal(t, 5, cfg.Controller.Step)
	assert.Equal(t, "slot", cfg.Handoff.Kind)
	assert.Equal(t, VariantFourStage, cfg.Pipeline.Variant)
	assert.Equal(t, []string{"GPIO5", "GPIO6", "", "GPIO13"}, cfg.Buttons.Pins)
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeTemp(t, "invalid: yaml: content: [")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyACM1"
`)

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)     // default
	assert.Equal(t, 10, cfg.Filter.WindowSize)       // default
	assert.Equal(t, "queue", cfg.Handoff.Kind)       // default
	assert.Len(t, cfg.Vending.Products, 3)           // default
	assert.Equal(t, time.Minute, cfg.Monitor.Window) // default
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown handoff", "handoff:\n  kind: mailbox\n"},
		{"unknown variant", "pipeline:\n  variant: five-stage\n"},
		{"negative period", "sampler:\n  period: -1s\n"},
		{"reference above range", "controller:\n  reference: 120\n"},
		{"tolerance above range", "filter:\n  tolerance_percent: 150\n"},
		{"too many buttons", "buttons:\n  pins: [a, b, c, d, e, f, g, h, i]\n"},
		{"free product", "vending:\n  products:\n    - name: Water\n      price: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.yaml))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Filter.TolerancePercent = 15
	cfg.Sampler.Period = 500 * time.Millisecond

	name := writeTemp(t, "")
	require.NoError(t, cfg.Save(name))

	// Load it back and verify
	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 15, loaded.Filter.TolerancePercent)
	assert.Equal(t, 500*time.Millisecond, loaded.Sampler.Period)
}
