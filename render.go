package convosync

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DownloadLabel is the link label of an attachment whose name is unknown.
const DownloadLabel = "Télécharger le fichier"

// Rendering is the display model of one message. Fields that do not apply to
// the message's kind are left empty.
type Rendering struct {
	Kind        MessageKind
	Author      string
	Body        string
	LinkURL     string
	LinkLabel   string
	PriceSuffix string
	Comparison  string
	Centered    bool
	FromSelf    bool
	Read        bool
	At          time.Time
}

// Render builds the display model of m. Metadata that is missing for its
// kind never fails rendering; the kind's fallback is used instead.
func Render(m Message) Rendering {
	r := Rendering{
		Kind:   m.Kind,
		Author: m.AuthorName,
		Body:   m.Content,
		Read:   m.IsRead(),
		At:     m.CreatedAt,
	}

	switch m.Kind {
	case KindAttachment:
		r.LinkLabel = DownloadLabel
		if md, ok := m.Metadata.(AttachmentMetadata); ok {
			r.LinkURL = md.URL
			if md.Name != "" {
				r.LinkLabel = md.Name
			}
		}
	case KindPriceQuote:
		if md, ok := m.Metadata.(PriceQuoteMetadata); ok {
			r.PriceSuffix = FormatPrice(md.Price)
		}
	case KindPriceDispute:
		if md, ok := m.Metadata.(PriceDisputeMetadata); ok {
			r.Comparison = FormatPrice(md.OriginalPrice) + " → " + FormatPrice(md.CounterPrice)
		}
	case KindSystem:
		r.Centered = true
	}
	return r
}

// RenderFor renders m from viewerID's point of view.
func RenderFor(m Message, viewerID string) Rendering {
	r := Render(m)
	r.FromSelf = viewerID != "" && m.AuthorID == viewerID
	return r
}

// Preview is a one-line summary of m, used for notifications.
func Preview(m Message) string {
	r := Render(m)
	var parts []string
	if body := strings.TrimSpace(r.Body); body != "" {
		parts = append(parts, body)
	}
	switch {
	case r.PriceSuffix != "":
		parts = append(parts, r.PriceSuffix)
	case r.Comparison != "":
		parts = append(parts, r.Comparison)
	case r.LinkURL != "" && r.Body == "":
		parts = append(parts, r.LinkLabel)
	}
	return strings.Join(parts, " ")
}

// FormatPrice formats euros the French way: thousands grouped with a narrow
// no-break space, two decimals after a comma, e.g. "1\u202f250,00 €".
func FormatPrice(amount float64) string {
	cents := math.Round(amount * 100)
	sign := ""
	if cents < 0 {
		sign = "-"
	}
	p := message.NewPrinter(language.French)
	return sign + p.Sprint(number.Decimal(math.Abs(cents)/100, number.Scale(2))) + " €"
}
