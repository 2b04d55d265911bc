package status

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type RenderOptions struct {
	Now time.Time
}

// SessionStatus is what `session check` and `whoami` report.
type SessionStatus struct {
	User        domain.UserProfile
	HasUser     bool
	Anonymous   bool
	ExpiresAt   time.Time
	ExpiryKnown bool
	Refreshed   bool
	Backend     domain.SessionBackend
}

func renderSession(status SessionStatus, opts RenderOptions, s styles) string {
	lines := []string{s.title.Render("Session")}

	if status.Anonymous {
		lines = append(lines, s.warning.Render("not logged in"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	if status.HasUser {
		lines = append(lines, s.peer.Render(userTitle(status.User)))
	} else {
		lines = append(lines, s.empty.Render("profile not loaded"))
	}
	if status.Backend != "" {
		lines = append(lines, s.header.Render("store: "+string(status.Backend)))
	}

	switch {
	case !status.ExpiryKnown:
		lines = append(lines, s.detail.Render("access token: expiry unknown"))
	default:
		lines = append(lines, s.detail.Render("access token: "+formatExpiryRelative(status.ExpiresAt, opts.Now)))
	}
	if status.Refreshed {
		lines = append(lines, s.header.Render("refreshed just now"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func userTitle(user domain.UserProfile) string {
	title := user.Label()
	if title == "" {
		title = user.ID
	}
	if user.Role != "" {
		title = fmt.Sprintf("%s (%s)", title, user.Role)
	}
	return title
}

func renderConnection(state domain.ConnectionState, attempt int, delay time.Duration, s styles) string {
	badge := stateStyle(state).Render(strings.ToUpper(string(state)))
	switch state {
	case domain.StateReconnecting:
		return fmt.Sprintf("%s %s", badge, s.header.Render(fmt.Sprintf("attempt %d, retry in %s", attempt, delay)))
	case domain.StateFailed:
		return fmt.Sprintf("%s %s", badge, s.warning.Render("gave up reconnecting, restart the watch to try again"))
	default:
		return badge
	}
}

func renderConversation(peerID, userID string, messages []domain.Message, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Conversation with " + peerID),
		s.header.Render(fmt.Sprintf("messages: %d", len(messages))),
	}

	if len(messages) == 0 {
		lines = append(lines, s.empty.Render("No messages yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, msg := range messages {
		lines = append(lines, messageLine(msg, userID, opts, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func messageLine(msg domain.Message, userID string, opts RenderOptions, s styles) string {
	author := msg.SenderDisplay
	if author == "" {
		author = msg.SenderID
	}

	bodyStyle := s.theirs
	if msg.SenderID == userID {
		author = "you"
		bodyStyle = s.mine
	}
	if msg.Pending() {
		bodyStyle = s.pending
	}

	parts := []string{
		s.timestamp.Render(formatTimestamp(msg.CreatedAt, opts.Now)),
		" ",
		s.peer.Render(author + ":"),
		" ",
		bodyStyle.Render(msg.Body),
	}
	if msg.Pending() {
		parts = append(parts, " ", s.pending.Render("(sending)"))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderTable(title string, headers []string, rows [][]string, s styles) string {
	lines := []string{
		s.title.Render(title),
		s.header.Render(fmt.Sprintf("rows: %d", len(rows))),
	}

	if len(rows) == 0 {
		lines = append(lines, s.empty.Render("Nothing to show."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.tableHead
			}
			if col == 0 {
				return s.tableFaint
			}
			return s.tableCell
		}).
		Headers(headers...).
		Rows(rows...)

	lines = append(lines, t.Render())
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func productRows(products []domain.Product) [][]string {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rows = append(rows, []string{p.ID, p.SKU, p.Name, domain.FormatCents(p.PriceCents), strconv.Itoa(p.Stock)})
	}
	return rows
}

func saleRows(sales []domain.Sale, now time.Time) [][]string {
	rows := make([][]string, 0, len(sales))
	for _, sale := range sales {
		rows = append(rows, []string{sale.ID, sale.ProductID, strconv.Itoa(sale.Quantity), domain.FormatCents(sale.TotalCents), formatTimestamp(sale.SoldAt, now)})
	}
	return rows
}

func orderRows(orders []domain.PurchaseOrder, now time.Time) [][]string {
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []string{o.ID, o.Supplier, string(o.Status), domain.FormatCents(o.TotalCents), formatTimestamp(o.UpdatedAt, now)})
	}
	return rows
}

func creditRows(credits []domain.Credit) [][]string {
	rows := make([][]string, 0, len(credits))
	for _, c := range credits {
		rows = append(rows, []string{c.ID, c.CustomerName, domain.FormatCents(c.BalanceCents)})
	}
	return rows
}

func depositRows(deposits []domain.Deposit, now time.Time) [][]string {
	rows := make([][]string, 0, len(deposits))
	for _, d := range deposits {
		rows = append(rows, []string{d.ID, domain.FormatCents(d.AmountCents), formatTimestamp(d.DepositedAt, now)})
	}
	return rows
}

func renderSummary(summary domain.DashboardSummary, s styles) string {
	lines := []string{
		s.title.Render("Dashboard"),
		summaryLine("sales today", domain.FormatCents(summary.SalesTodayCents), s),
		summaryLine("open orders", strconv.Itoa(summary.OpenOrders), s),
		summaryLine("outstanding credits", domain.FormatCents(summary.OutstandingCredits), s),
	}

	low := summaryLine("low stock products", strconv.Itoa(summary.LowStockProducts), s)
	if summary.LowStockProducts > 0 {
		low += " " + s.warning.Render("[restock]")
	}
	lines = append(lines, low)

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func summaryLine(label, value string, s styles) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, s.header.Render(fmt.Sprintf("%-20s", label+":")), " ", s.detail.Render(value))
}

func formatTimestamp(at, now time.Time) string {
	if at.IsZero() {
		return "--:--"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := at.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return at.Format("15:04")
	}

	return at.Format("15:04 on 02 Jan")
}

func formatExpiryRelative(expiresAt, now time.Time) string {
	if now.IsZero() {
		return "expires " + formatTimestamp(expiresAt, now)
	}

	if !expiresAt.After(now) {
		return "expired"
	}

	remaining := expiresAt.Sub(now)
	if remaining < time.Hour {
		minutes := int(math.Ceil(remaining.Minutes()))
		suffix := "minutes"
		if minutes == 1 {
			suffix = "minute"
		}
		return fmt.Sprintf("expires in %d %s (%s)", minutes, suffix, formatTimestamp(expiresAt, now))
	}

	hours := int(math.Ceil(remaining.Hours()))
	suffix := "hours"
	if hours == 1 {
		suffix = "hour"
	}
	return fmt.Sprintf("expires in %d %s (%s)", hours, suffix, formatTimestamp(expiresAt, now))
}
