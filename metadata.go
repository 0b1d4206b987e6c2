package convosync

import (
	"encoding/json"
)

// Metadata is the kind-specific payload of a message. The set of variants is
// closed: TextMetadata, AttachmentMetadata, PriceQuoteMetadata,
// PriceDisputeMetadata and SystemMetadata.
type Metadata interface {
	Kind() MessageKind
	sealed()
}

// TextMetadata carries nothing.
type TextMetadata struct{}

// AttachmentMetadata points at an uploaded file. Name may be empty.
type AttachmentMetadata struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// PriceQuoteMetadata is a price proposed by a carrier.
type PriceQuoteMetadata struct {
	Price float64 `json:"price"`
}

// PriceDisputeMetadata is a counter-offer against an earlier price.
type PriceDisputeMetadata struct {
	OriginalPrice float64 `json:"original_price"`
	CounterPrice  float64 `json:"counter_price"`
}

// SystemMetadata carries nothing; system messages are informational.
type SystemMetadata struct{}

func (TextMetadata) Kind() MessageKind         { return KindText }
func (AttachmentMetadata) Kind() MessageKind   { return KindAttachment }
func (PriceQuoteMetadata) Kind() MessageKind   { return KindPriceQuote }
func (PriceDisputeMetadata) Kind() MessageKind { return KindPriceDispute }
func (SystemMetadata) Kind() MessageKind       { return KindSystem }

func (TextMetadata) sealed()         {}
func (AttachmentMetadata) sealed()   {}
func (PriceQuoteMetadata) sealed()   {}
func (PriceDisputeMetadata) sealed() {}
func (SystemMetadata) sealed()       {}

// decodeMetadata builds the variant for kind from raw JSON. It returns nil when
// the payload is absent, malformed, or lacks a field the kind requires.
func decodeMetadata(kind MessageKind, raw json.RawMessage) Metadata {
	switch kind {
	case KindText:
		return TextMetadata{}
	case KindSystem:
		return SystemMetadata{}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	switch kind {
	case KindAttachment:
		var md AttachmentMetadata
		if json.Unmarshal(raw, &md) != nil || md.URL == "" {
			return nil
		}
		return md
	case KindPriceQuote:
		if _, ok := fields["price"]; !ok {
			return nil
		}
		var md PriceQuoteMetadata
		if json.Unmarshal(raw, &md) != nil {
			return nil
		}
		return md
	case KindPriceDispute:
		_, hasOriginal := fields["original_price"]
		_, hasCounter := fields["counter_price"]
		if !hasOriginal || !hasCounter {
			return nil
		}
		var md PriceDisputeMetadata
		if json.Unmarshal(raw, &md) != nil {
			return nil
		}
		return md
	}
	return nil
}
