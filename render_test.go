package convosync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0,00 €"},
		{9.5, "9,50 €"},
		{450, "450,00 €"},
		{1250, "1\u202f250,00 €"},
		{1234567.891, "1\u202f234\u202f567,89 €"},
		{-75.2, "-75,20 €"},
		{0.005, "0,01 €"},
		{-0.001, "0,00 €"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(tt.in), "FormatPrice(%v)", tt.in)
	}
}

func TestRenderKinds(t *testing.T) {
	t.Run("text is verbatim", func(t *testing.T) {
		r := Render(Message{Kind: KindText, Content: "Bonjour", AuthorName: "Garage Dupont", CreatedAt: at(1)})
		assert.Equal(t, "Bonjour", r.Body)
		assert.Equal(t, "Garage Dupont", r.Author)
		assert.Equal(t, at(1), r.At)
		assert.False(t, r.Centered)
	})

	t.Run("attachment links to the file", func(t *testing.T) {
		r := Render(Message{Kind: KindAttachment, Content: AttachmentPlaceholder, Metadata: AttachmentMetadata{URL: "https://f/pv.pdf", Name: "pv.pdf"}})
		assert.Equal(t, "https://f/pv.pdf", r.LinkURL)
		assert.Equal(t, "pv.pdf", r.LinkLabel)
	})

	t.Run("attachment without name uses the download label", func(t *testing.T) {
		r := Render(Message{Kind: KindAttachment, Metadata: AttachmentMetadata{URL: "https://f/pv.pdf"}})
		assert.Equal(t, DownloadLabel, r.LinkLabel)
		assert.Equal(t, "https://f/pv.pdf", r.LinkURL)
	})

	t.Run("attachment without metadata", func(t *testing.T) {
		r := Render(Message{Kind: KindAttachment, Content: "fichier"})
		assert.Equal(t, DownloadLabel, r.LinkLabel)
		assert.Empty(t, r.LinkURL)
		assert.Equal(t, "fichier", r.Body)
	})

	t.Run("price quote", func(t *testing.T) {
		r := Render(Message{Kind: KindPriceQuote, Content: "Mon prix", Metadata: PriceQuoteMetadata{Price: 1250}})
		assert.Equal(t, "Mon prix", r.Body)
		assert.Equal(t, "1\u202f250,00 €", r.PriceSuffix)
	})

	t.Run("price quote without metadata", func(t *testing.T) {
		r := Render(Message{Kind: KindPriceQuote, Content: "Mon prix"})
		assert.Equal(t, "Mon prix", r.Body)
		assert.Empty(t, r.PriceSuffix)
	})

	t.Run("price dispute", func(t *testing.T) {
		r := Render(Message{Kind: KindPriceDispute, Content: "Trop cher", Metadata: PriceDisputeMetadata{OriginalPrice: 500, CounterPrice: 420}})
		assert.Equal(t, "500,00 € → 420,00 €", r.Comparison)
	})

	t.Run("price dispute without metadata", func(t *testing.T) {
		r := Render(Message{Kind: KindPriceDispute, Content: "Trop cher"})
		assert.Equal(t, "Trop cher", r.Body)
		assert.Empty(t, r.Comparison)
	})

	t.Run("system is centered", func(t *testing.T) {
		r := Render(Message{Kind: KindSystem, Content: "Mission acceptée"})
		assert.True(t, r.Centered)
		assert.Equal(t, "Mission acceptée", r.Body)
	})
}

func TestRenderFor(t *testing.T) {
	m := Message{Kind: KindText, AuthorID: shipperID, Content: "x", ReadAt: ptrTime(at(2))}

	assert.True(t, RenderFor(m, shipperID).FromSelf)
	assert.False(t, RenderFor(m, carrierID).FromSelf)
	assert.False(t, RenderFor(m, "").FromSelf)
	assert.True(t, RenderFor(m, carrierID).Read)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Mon prix 450,00 €", Preview(Message{Kind: KindPriceQuote, Content: "Mon prix", Metadata: PriceQuoteMetadata{Price: 450}}))
	assert.Equal(t, "pv.pdf", Preview(Message{Kind: KindAttachment, Metadata: AttachmentMetadata{URL: "https://f/pv.pdf", Name: "pv.pdf"}}))
	assert.Equal(t, "Bonjour", Preview(Message{Kind: KindText, Content: " Bonjour "}))
}

func ptrTime(v time.Time) *time.Time { return &v }
