package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"listing-monitor/models"
	"listing-monitor/utils"
)

// UntitledListing replaces an empty or missing title.
const UntitledListing = "Без названия"

// nonDigits strips everything except 0-9 from a raw price value.
var nonDigits = regexp.MustCompile(`\D+`)

// Selectors locate the fields of one listing card. An empty attribute
// means the element text is used.
type Selectors struct {
	Item      string
	IDAttr    string
	Title     string
	Price     string
	PriceAttr string
	Link      string
	Date      string
	Location  string
}

// DefaultSelectors match the current search-results markup of the source.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:      `[data-marker="item"]`,
		IDAttr:    "id",
		Title:     `[itemprop="name"]`,
		Price:     `[itemprop="price"]`,
		PriceAttr: "content",
		Link:      `a[href*="/"]`,
		Date:      `[data-marker="item-date"]`,
		Location:  `[class*="address"]`,
	}
}

// Parser turns a search-results document into normalised listings.
type Parser struct {
	Selectors  Selectors
	BaseURL    string
	TitleLimit int
	// MaxResults caps every Parse call when positive.
	MaxResults int

	logger *utils.Logger
	base   *url.URL
}

// NewParser creates a Parser with the default selectors and a 100-rune
// title cap.
func NewParser(baseURL string, logger *utils.Logger) *Parser {
	base, _ := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	return &Parser{
		Selectors:  DefaultSelectors(),
		BaseURL:    baseURL,
		TitleLimit: 100,
		logger:     logger,
		base:       base,
	}
}

// Parse extracts at most maxResults listings in document order, further
// capped by MaxResults when that is set. Cards without an id, repeated ids,
// and cards that fail extraction are skipped. A limit <= 0 yields no
// listings. The result depends only on the arguments.
func (p *Parser) Parse(raw []byte, query string, maxResults int, foundAt time.Time) ([]models.Listing, error) {
	if p.MaxResults > 0 && maxResults > p.MaxResults {
		maxResults = p.MaxResults
	}
	if maxResults <= 0 {
		return []models.Listing{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse: read document: %w", err)
	}

	listings := make([]models.Listing, 0, maxResults)
	seen := make(map[string]struct{})

	doc.Find(p.Selectors.Item).EachWithBreak(func(i int, item *goquery.Selection) bool {
		if len(listings) >= maxResults {
			return false
		}

		l, err := p.parseItem(i, item)
		if err != nil {
			p.logger.Debug("[parser] %v", err)
			return true
		}
		if _, dup := seen[l.ID]; dup {
			p.logger.Debug("[parser] Duplicate id %s skipped", l.ID)
			return true
		}
		seen[l.ID] = struct{}{}

		l.Query = query
		l.FoundAt = foundAt
		listings = append(listings, l)
		return true
	})

	p.logger.Debug("[parser] %q: %d listings", query, len(listings))
	return listings, nil
}

var errMissingID = errors.New("missing id")

func (p *Parser) parseItem(index int, item *goquery.Selection) (l models.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ParseError{Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	id := strings.TrimSpace(item.AttrOr(p.Selectors.IDAttr, ""))
	if id == "" {
		return l, &ParseError{Index: index, Err: errMissingID}
	}

	title := normaliseText(item.Find(p.Selectors.Title).First().Text())
	if title == "" {
		title = UntitledListing
	}

	l = models.Listing{
		ID:          id,
		Title:       truncateRunes(title, p.TitleLimit),
		Price:       p.price(item.Find(p.Selectors.Price).First()),
		URL:         p.link(item.Find(p.Selectors.Link).First()),
		Location:    normaliseText(item.Find(p.Selectors.Location).First().Text()),
		PublishedAt: normaliseText(item.Find(p.Selectors.Date).First().Text()),
	}
	return l, nil
}

func (p *Parser) price(sel *goquery.Selection) int64 {
	if sel.Length() == 0 {
		return 0
	}
	raw := sel.Text()
	if p.Selectors.PriceAttr != "" {
		if v, ok := sel.Attr(p.Selectors.PriceAttr); ok {
			raw = v
		}
	}
	return ParsePrice(raw)
}

func (p *Parser) link(sel *goquery.Selection) string {
	href := strings.TrimSpace(sel.AttrOr("href", ""))
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() || p.base == nil {
		return ref.String()
	}
	return p.base.ResolveReference(ref).String()
}

// ParsePrice keeps only the digits of raw. Anything unusable yields 0.
func ParsePrice(raw string) int64 {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
