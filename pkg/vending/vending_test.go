package vending

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/clock"
	"github.com/itohio/lumen/pkg/config"
)

func newMachine(t *testing.T, out io.Writer) *Machine {
	t.Helper()
	m, err := New(config.Default().Vending, out, nil)
	require.NoError(t, err)
	return m
}

func press(bs ...buttons.Button) *buttons.Flags {
	f := &buttons.Flags{}
	for _, b := range bs {
		f.Press(b)
	}
	return f
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.VendingConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.VendingConfig{
		Products: []config.Product{{Name: "Tea", Price: 40}},
		Coins:    []int{1, 2, 5, 10, 20},
	}, nil, nil)
	assert.Error(t, err)
}

func TestStep_Credit(t *testing.T) {
	m := newMachine(t, nil)

	ev := m.Step(press(buttons.B1, buttons.B3))
	assert.Equal(t, ActionCredit, ev.Action)
	assert.Equal(t, 60, ev.Amount)
	assert.Equal(t, 60, m.Credit())

	ev = m.Step(press(buttons.B4))
	assert.Equal(t, 160, ev.Credit)
}

func TestStep_Selection(t *testing.T) {
	tests := []struct {
		name    string
		presses []buttons.Button
		want    string
	}{
		{"start", nil, "Beer"},
		{"next", []buttons.Button{buttons.B7}, "Tuna Sandwich"},
		{"next wraps", []buttons.Button{buttons.B7, buttons.B7, buttons.B7}, "Beer"},
		{"previous wraps", []buttons.Button{buttons.B5}, "Coffee"},
		{"previous twice", []buttons.Button{buttons.B5, buttons.B5}, "Tuna Sandwich"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(t, nil)
			for _, b := range tt.presses {
				ev := m.Step(press(b))
				assert.Equal(t, ActionSelect, ev.Action)
			}
			assert.Equal(t, tt.want, m.Selected().Name)
		})
	}
}

func TestStep_Checkout(t *testing.T) {
	m := newMachine(t, nil)

	// Beer costs 150.
	ev := m.Step(press(buttons.B8))
	assert.Equal(t, ActionCheckout, ev.Action)
	assert.False(t, ev.Dispensed)
	assert.Equal(t, 150, ev.Missing)

	m.Step(press(buttons.B4, buttons.B3, buttons.B2))
	require.Equal(t, 170, m.Credit())

	ev = m.Step(press(buttons.B8))
	assert.True(t, ev.Dispensed)
	assert.Equal(t, "Beer", ev.Product.Name)
	assert.Equal(t, 150, ev.Amount)
	assert.Equal(t, 20, ev.Credit)
	assert.Equal(t, 20, m.Credit())
}

func TestStep_Refund(t *testing.T) {
	m := newMachine(t, nil)
	m.Step(press(buttons.B4))

	ev := m.Step(press(buttons.B6))
	assert.Equal(t, ActionRefund, ev.Action)
	assert.Equal(t, 100, ev.Amount)
	assert.Zero(t, m.Credit())
}

func TestStep_LastGroupWins(t *testing.T) {
	m := newMachine(t, nil)
	flags := press(buttons.B4, buttons.B6, buttons.B7, buttons.B8)

	// Checkout first, with no credit yet.
	ev := m.Step(flags)
	assert.Equal(t, ActionCheckout, ev.Action)
	assert.False(t, ev.Dispensed)
	assert.Equal(t, "B4,B6,B7", flags.String())

	ev = m.Step(flags)
	assert.Equal(t, ActionSelect, ev.Action)
	assert.Equal(t, "Tuna Sandwich", ev.Product.Name)

	ev = m.Step(flags)
	assert.Equal(t, ActionRefund, ev.Action)
	assert.Zero(t, ev.Amount)

	ev = m.Step(flags)
	assert.Equal(t, ActionCredit, ev.Action)
	assert.Equal(t, 100, m.Credit())

	ev = m.Step(flags)
	assert.Equal(t, ActionNone, ev.Action)
	assert.Empty(t, flags.String())
}

func TestStep_IgnoresUnassignedCoinButtons(t *testing.T) {
	m, err := New(config.VendingConfig{
		Products: []config.Product{{Name: "Tea", Price: 40}},
		Coins:    []int{10, 20},
	}, nil, nil)
	require.NoError(t, err)

	flags := press(buttons.B2, buttons.B4)
	ev := m.Step(flags)
	assert.Equal(t, 20, ev.Amount)
	assert.Empty(t, flags.String(), "press is consumed even without a coin")
}

func TestShowMenu(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, &out)
	m.Next()

	m.ShowMenu(true)
	text := out.String()
	assert.Contains(t, text, "   - Beer: 150 cents\n")
	assert.Regexp(t, `- Tuna Sandwich: 100 cents\s+<----\n`, text)
	assert.Contains(t, text, "Credit: 0 cents")

	out.Reset()
	m.Step(press(buttons.B8))
	assert.Contains(t, out.String(), "Missing: 100 cents")
}

func TestRun(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, &out)
	flags := press(buttons.B4, buttons.B3)

	clk := clock.NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, flags, clk, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return len(clk.Sleeps()) > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("vending machine did not stop")
	}
	assert.Equal(t, 150, m.Credit())
}
