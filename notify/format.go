package notify

import (
	"fmt"
	"strings"

	"listing-monitor/models"
)

// PriceUnspecified is shown instead of a zero or unusable price.
const PriceUnspecified = "Цена не указана"

// MaxMessageRunes is the hard cap for any caption-style message.
const MaxMessageRunes = 1024

// OpenListingButton is the link-button label attached to listing messages.
const OpenListingButton = "🔗 Открыть объявление"

// FormatPrice renders a price in human units: millions with one decimal,
// thousands rounded to an integer, otherwise the raw amount.
func FormatPrice(price int64) string {
	switch {
	case price <= 0:
		return PriceUnspecified
	case price >= 1_000_000:
		return fmt.Sprintf("%.1f млн ₽", float64(price)/1_000_000)
	case price >= 1_000:
		return fmt.Sprintf("%.0f тыс ₽", float64(price)/1_000)
	default:
		return fmt.Sprintf("%d ₽", price)
	}
}

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// EscapeMarkdown protects user data inside a Markdown message.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// FormatListing builds the new-listing notification. The link button
// carries the listing URL.
func FormatListing(l models.Listing) Message {
	var b strings.Builder
	b.WriteString("🆕 *Новое объявление!*\n\n")
	fmt.Fprintf(&b, "🔍 *Запрос:* %s\n", EscapeMarkdown(l.Query))
	fmt.Fprintf(&b, "🏷 *%s*\n", EscapeMarkdown(l.Title))
	fmt.Fprintf(&b, "💰 *Цена:* %s\n", FormatPrice(l.Price))
	if l.Location != "" {
		fmt.Fprintf(&b, "📍 *Место:* %s\n", EscapeMarkdown(l.Location))
	}
	if l.PublishedAt != "" {
		fmt.Fprintf(&b, "🕐 %s\n", EscapeMarkdown(l.PublishedAt))
	}

	msg := Message{Text: Truncate(b.String(), MaxMessageRunes)}
	if l.URL != "" {
		msg.ButtonText = OpenListingButton
		msg.ButtonURL = l.URL
	}
	return msg
}

// FormatSearchResults renders the reply to an ad-hoc search.
func FormatSearchResults(query string, items []models.Listing) string {
	if len(items) == 0 {
		return fmt.Sprintf("😕 По запросу *%s* ничего не найдено", EscapeMarkdown(query))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 *Результаты по запросу: %s*\n\n", EscapeMarkdown(query))
	for i, l := range items {
		title := EscapeMarkdown(Truncate(l.Title, 50))
		if l.URL != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, title, l.URL)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		}
		fmt.Fprintf(&b, "💰 %s\n\n", FormatPrice(l.Price))
	}
	return Truncate(strings.TrimRight(b.String(), "\n"), MaxMessageRunes)
}

// Truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
