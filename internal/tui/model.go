// Package tui renders a live watcher over a runtime: depth ladders,
// trade statistics and the notification tape for the selected symbol.
// Book state is rebuilt from the notification stream, so the watcher
// never reads engine internals while a worker owns them.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

const (
	maxRungs    = 10
	maxTapeRows = 200
)

type keyMap struct {
	NextSymbol key.Binding
	PrevSymbol key.Binding
	Quit       key.Binding
}

var keys = keyMap{
	NextSymbol: key.NewBinding(key.WithKeys("tab", "right"), key.WithHelp("tab", "next symbol")),
	PrevSymbol: key.NewBinding(key.WithKeys("shift+tab", "left"), key.WithHelp("shift+tab", "prev symbol")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// bookState is the per-symbol aggregate rebuilt from notifications.
type bookState struct {
	bids map[string]decimal.Decimal // price string -> aggregate qty
	asks map[string]decimal.Decimal
}

func newBookState() *bookState {
	return &bookState{
		bids: map[string]decimal.Decimal{},
		asks: map[string]decimal.Decimal{},
	}
}

func (b *bookState) side(s engine.Side) map[string]decimal.Decimal {
	if s == engine.SideBid {
		return b.bids
	}
	return b.asks
}

// apply folds one notification into the aggregate levels.
func (b *bookState) apply(n engine.Notification) {
	lvls := b.side(n.Side)
	k := n.Price.String()
	switch n.Kind {
	case engine.KindOpen, engine.KindModified:
		lvls[k] = lvls[k].Add(n.Qty)
	case engine.KindFilled, engine.KindPartialFilled, engine.KindCancelled:
		left := lvls[k].Sub(n.Qty)
		if left.IsPositive() {
			lvls[k] = left
		} else {
			delete(lvls, k)
		}
	}
}

type noteMsg engine.Notification

type streamClosedMsg struct{}

// Model is the watcher's bubbletea model.
type Model struct {
	rt      *exchange.Runtime
	symbols []string
	current int

	books map[string]*bookState
	tape  []string
	vp    viewport.Model

	width  int
	height int
	closed bool
}

// NewModel builds a watcher over the runtime's registered symbols.
func NewModel(rt *exchange.Runtime, symbols []string) *Model {
	books := make(map[string]*bookState, len(symbols))
	for _, s := range symbols {
		books[s] = newBookState()
	}
	return &Model{
		rt:      rt,
		symbols: symbols,
		books:   books,
		vp:      viewport.New(40, 10),
	}
}

// Init starts listening to the notification stream.
func (m *Model) Init() tea.Cmd {
	return m.waitForNote()
}

func (m *Model) waitForNote() tea.Cmd {
	return func() tea.Msg {
		n, ok := <-m.rt.Notifications()
		if !ok {
			return streamClosedMsg{}
		}
		return noteMsg(n)
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.NextSymbol):
			if len(m.symbols) > 0 {
				m.current = (m.current + 1) % len(m.symbols)
			}
		case key.Matches(msg, keys.PrevSymbol):
			if len(m.symbols) > 0 {
				m.current = (m.current + len(m.symbols) - 1) % len(m.symbols)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp.Width = msg.Width - 4
		m.vp.Height = msg.Height/2 - 4

	case noteMsg:
		n := engine.Notification(msg)
		if b, ok := m.books[n.Symbol]; ok {
			b.apply(n)
		}
		m.appendTape(n)
		return m, m.waitForNote()

	case streamClosedMsg:
		m.closed = true
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *Model) appendTape(n engine.Notification) {
	tag := n.Kind.String()
	if n.Kind == engine.KindRejected {
		tag = "REJECTED: " + n.Reason
	}
	line := fmt.Sprintf("[%s] %-17s #%-6d %-4s %8s @ %s",
		n.Symbol, tag, n.OrderID, n.Side, n.Qty, n.Price)
	m.tape = append(m.tape, line)
	if len(m.tape) > maxTapeRows {
		m.tape = m.tape[len(m.tape)-maxTapeRows:]
	}
	m.vp.SetContent(strings.Join(m.tape, "\n"))
	m.vp.GotoBottom()
}

type rung struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

func sortedRungs(lvls map[string]decimal.Decimal, bestHigh bool) []rung {
	out := make([]rung, 0, len(lvls))
	for k, q := range lvls {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		out = append(out, rung{price: p, qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if bestHigh {
			return out[i].price.GreaterThan(out[j].price)
		}
		return out[i].price.LessThan(out[j].price)
	})
	if len(out) > maxRungs {
		out = out[:maxRungs]
	}
	return out
}

func renderLadder(title string, rungs []rung, style lipgloss.Style) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	if len(rungs) == 0 {
		b.WriteString(statStyle.Render("(empty)"))
		return b.String()
	}
	for _, r := range rungs {
		b.WriteString(style.Render(fmt.Sprintf("%10s  x %10s", r.price, r.qty)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// View renders the watcher.
func (m *Model) View() string {
	if len(m.symbols) == 0 {
		return "no symbols registered"
	}
	sym := m.symbols[m.current]
	book := m.books[sym]

	// Trade stats come from the engine's atomic counters, which are safe
	// to sample while workers run.
	stats := statStyle.Render("no trades yet")
	if eng, err := m.rt.Engine(sym); err == nil {
		if p, ok := eng.MarketPrice(); ok {
			stats = statStyle.Render(fmt.Sprintf("last %s · trades %d",
				eng.PriceDecimal(p), eng.NumTrades()))
		}
	}

	ladders := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(renderLadder("BIDS", sortedRungs(book.bids, true), bidStyle)),
		panelStyle.Render(renderLadder("ASKS", sortedRungs(book.asks, false), askStyle)),
	)

	header := titleStyle.Render(" backsim · "+sym+" ") + "  " + stats
	if m.closed {
		header += "  " + statStyle.Render("(stream closed)")
	}

	help := helpStyle.Render("tab: next symbol · shift+tab: prev · q: quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		ladders,
		panelStyle.Render(m.vp.View()),
		help,
	)
}
