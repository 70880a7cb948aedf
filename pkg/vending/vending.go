// Package vending implements the button-driven vending machine: coins add
// credit, B6 refunds, B5/B7 move the selection and B8 buys the selected
// product.
package vending

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/itohio/lumen/pkg/buttons"
	"github.com/itohio/lumen/pkg/clock"
	"github.com/itohio/lumen/pkg/config"
)

// DefaultPollPeriod is how often Run polls the button latches.
const DefaultPollPeriod = 20 * time.Millisecond

// Button assignment.
var (
	coinButtons = []buttons.Button{buttons.B1, buttons.B2, buttons.B3, buttons.B4}

	refundButton   = buttons.B6
	previousButton = buttons.B5
	nextButton     = buttons.B7
	checkoutButton = buttons.B8
)

// Action is what one Step did.
type Action int

const (
	ActionNone Action = iota
	ActionCredit
	ActionRefund
	ActionSelect
	ActionCheckout
)

func (a Action) String() string {
	switch a {
	case ActionCredit:
		return "credit"
	case ActionRefund:
		return "refund"
	case ActionSelect:
		return "select"
	case ActionCheckout:
		return "checkout"
	default:
		return "none"
	}
}

// Event describes the outcome of one Step.
type Event struct {
	Action Action
	// Amount is the credit added, the credit refunded or the price charged.
	Amount    int
	Product   config.Product
	Dispensed bool
	Missing   int // Cents still needed when a checkout is refused
	Credit    int // Credit after the action
}

// Machine is the vending state machine. It is not safe for concurrent use;
// presses arrive through buttons.Flags.
type Machine struct {
	products []config.Product
	coins    []int
	credit   int
	choice   int

	out    io.Writer
	logger *slog.Logger
}

// New creates a machine selling cfg.Products. Buttons B1..B4 add cfg.Coins in
// order. The menu is written to out.
func New(cfg config.VendingConfig, out io.Writer, logger *slog.Logger) (*Machine, error) {
	if len(cfg.Products) == 0 {
		return nil, errors.New("vending: no products")
	}
	if len(cfg.Coins) > len(coinButtons) {
		return nil, fmt.Errorf("vending: at most %d coins, got %d", len(coinButtons), len(cfg.Coins))
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Machine{
		products: cfg.Products,
		coins:    cfg.Coins,
		out:      out,
		logger:   logger.With("component", "vending"),
	}, nil
}

// Credit returns the current credit in cents.
func (m *Machine) Credit() int {
	return m.credit
}

// Selected returns the product under the cursor.
func (m *Machine) Selected() config.Product {
	return m.products[m.choice]
}

// Step runs one pass of the state machine. The idle state looks at coins,
// refund, selection and checkout in that order and the last pending group
// wins; only that group's presses are consumed. Other presses stay latched for
// the next Step.
func (m *Machine) Step(flags *buttons.Flags) Event {
	action := ActionNone
	if m.anyPending(flags, coinButtons...) {
		action = ActionCredit
	}
	if flags.Pending(refundButton) {
		action = ActionRefund
	}
	if m.anyPending(flags, previousButton, nextButton) {
		action = ActionSelect
	}
	if flags.Pending(checkoutButton) {
		action = ActionCheckout
	}

	var ev Event
	switch action {
	case ActionCredit:
		ev = m.takeCoins(flags)
	case ActionRefund:
		flags.Take(refundButton)
		ev = m.Refund()
	case ActionSelect:
		if flags.Take(previousButton) {
			m.Previous()
		}
		if flags.Take(nextButton) {
			m.Next()
		}
		m.ShowMenu(true)
		ev = Event{Action: ActionSelect, Product: m.Selected(), Credit: m.credit}
	case ActionCheckout:
		flags.Take(checkoutButton)
		ev = m.Checkout()
	default:
		return Event{Credit: m.credit}
	}

	m.logger.Info("step", "action", ev.Action, "amount", ev.Amount, "product", ev.Product.Name, "credit", ev.Credit)
	return ev
}

func (m *Machine) anyPending(flags *buttons.Flags, bs ...buttons.Button) bool {
	for _, b := range bs {
		if flags.Pending(b) {
			return true
		}
	}
	return false
}

func (m *Machine) takeCoins(flags *buttons.Flags) Event {
	ev := Event{Action: ActionCredit}
	for i, b := range coinButtons {
		if !flags.Take(b) || i >= len(m.coins) {
			continue
		}
		ev.Amount += m.coins[i]
		m.Insert(m.coins[i])
	}
	ev.Credit = m.credit
	return ev
}

// Insert adds a coin.
func (m *Machine) Insert(cents int) {
	m.credit += cents
	m.ShowMenu(false)
	m.separator()
	fmt.Fprintf(m.out, "Inserted: %d cents\n", cents)
	fmt.Fprintf(m.out, "Credit: %d cents\n", m.credit)
}

// Refund returns all credit.
func (m *Machine) Refund() Event {
	refunded := m.credit
	m.credit = 0

	m.ShowMenu(false)
	m.separator()
	fmt.Fprintf(m.out, "Refunded: %d cents\n", refunded)
	fmt.Fprintf(m.out, "Credit: %d cents\n", m.credit)

	return Event{Action: ActionRefund, Amount: refunded}
}

// Next moves the cursor down, wrapping to the first product.
func (m *Machine) Next() {
	m.choice = (m.choice + 1) % len(m.products)
}

// Previous moves the cursor up, wrapping to the last product.
func (m *Machine) Previous() {
	m.choice = (m.choice - 1 + len(m.products)) % len(m.products)
}

// Checkout dispenses the selected product if the credit covers its price.
func (m *Machine) Checkout() Event {
	p := m.Selected()
	ev := Event{Action: ActionCheckout, Product: p}

	m.ShowMenu(false)
	m.separator()
	if m.credit >= p.Price {
		m.credit -= p.Price
		ev.Dispensed = true
		ev.Amount = p.Price
		fmt.Fprintf(m.out, "Dispensed: %s\n", p.Name)
		fmt.Fprintf(m.out, "Charged: %d cents\n", p.Price)
	} else {
		ev.Missing = p.Price - m.credit
		fmt.Fprintf(m.out, "Price: %d cents\n", p.Price)
		fmt.Fprintf(m.out, "Missing: %d cents\n", ev.Missing)
	}
	fmt.Fprintf(m.out, "Credit: %d cents\n", m.credit)

	ev.Credit = m.credit
	return ev
}

// ShowMenu writes the product list with an arrow on the selection, and the
// credit when withCredit is set.
func (m *Machine) ShowMenu(withCredit bool) {
	var b strings.Builder
	b.WriteString("\nProducts:\n")
	for i, p := range m.products {
		line := fmt.Sprintf("   - %s: %d cents", p.Name, p.Price)
		if i == m.choice {
			line = fmt.Sprintf("%-38s<----", line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	io.WriteString(m.out, b.String())

	if withCredit {
		m.separator()
		fmt.Fprintf(m.out, "Credit: %d cents\n", m.credit)
	}
}

func (m *Machine) separator() {
	io.WriteString(m.out, "\n"+strings.Repeat("-", 52)+"\n\n")
}

// Run shows the menu and steps the machine every period until ctx is done.
func (m *Machine) Run(ctx context.Context, flags *buttons.Flags, clk clock.Clock, period time.Duration) error {
	if period <= 0 {
		period = DefaultPollPeriod
	}
	m.ShowMenu(true)
	m.logger.Info("started", "products", len(m.products), "period", period)

	return clock.Periodic(ctx, clk, period, func(context.Context) {
		m.Step(flags)
	})
}
