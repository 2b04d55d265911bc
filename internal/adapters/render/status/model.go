package status

import (
	"errors"
	"io"
	"time"

	"github.com/bnema/possync/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

type renderReadyMsg struct{}

type viewFunc func(s styles) string

type model struct {
	view   viewFunc
	styles styles
	output string
}

func newModel(view viewFunc) model {
	return model{
		view:   view,
		styles: newStyles(),
	}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case renderReadyMsg:
		m.output = m.view(m.styles)
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m model) View() string {
	return m.output
}

func render(view viewFunc) (string, error) {
	p := tea.NewProgram(
		newModel(view),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}

func Session(status SessionStatus, opts RenderOptions) (string, error) {
	return render(func(s styles) string { return renderSession(status, opts, s) })
}

func Connection(state domain.ConnectionState, attempt int, delay time.Duration) (string, error) {
	return render(func(s styles) string { return renderConnection(state, attempt, delay, s) })
}

func Conversation(peerID, userID string, messages []domain.Message, opts RenderOptions) (string, error) {
	return render(func(s styles) string { return renderConversation(peerID, userID, messages, opts, s) })
}

func Products(products []domain.Product) (string, error) {
	return render(func(s styles) string {
		return renderTable("Products", []string{"ID", "SKU", "NAME", "PRICE", "STOCK"}, productRows(products), s)
	})
}

func Sales(sales []domain.Sale, opts RenderOptions) (string, error) {
	return render(func(s styles) string {
		return renderTable("Sales", []string{"ID", "PRODUCT", "QTY", "TOTAL", "SOLD"}, saleRows(sales, opts.Now), s)
	})
}

func PurchaseOrders(orders []domain.PurchaseOrder, opts RenderOptions) (string, error) {
	return render(func(s styles) string {
		return renderTable("Purchase orders", []string{"ID", "SUPPLIER", "STATUS", "TOTAL", "UPDATED"}, orderRows(orders, opts.Now), s)
	})
}

func Credits(credits []domain.Credit) (string, error) {
	return render(func(s styles) string {
		return renderTable("Credits", []string{"ID", "CUSTOMER", "BALANCE"}, creditRows(credits), s)
	})
}

func Deposits(deposits []domain.Deposit, opts RenderOptions) (string, error) {
	return render(func(s styles) string {
		return renderTable("Deposits", []string{"ID", "AMOUNT", "DEPOSITED"}, depositRows(deposits, opts.Now), s)
	})
}

func Summary(summary domain.DashboardSummary) (string, error) {
	return render(func(s styles) string { return renderSummary(summary, s) })
}
