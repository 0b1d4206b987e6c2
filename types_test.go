package convosync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshalMetadata(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Metadata
	}{
		{"text", `{"kind":"text","metadata":null}`, TextMetadata{}},
		{"missing kind defaults to text", `{"content":"x"}`, TextMetadata{}},
		{"system", `{"kind":"system"}`, SystemMetadata{}},
		{"attachment", `{"kind":"attachment","metadata":{"url":"https://f/a.pdf","name":"a.pdf"}}`, AttachmentMetadata{URL: "https://f/a.pdf", Name: "a.pdf"}},
		{"attachment without url", `{"kind":"attachment","metadata":{"name":"a.pdf"}}`, nil},
		{"price quote", `{"kind":"price-quote","metadata":{"price":450.5}}`, PriceQuoteMetadata{Price: 450.5}},
		{"price quote of zero", `{"kind":"price-quote","metadata":{"price":0}}`, PriceQuoteMetadata{Price: 0}},
		{"price quote without price", `{"kind":"price-quote","metadata":{}}`, nil},
		{"price quote with string price", `{"kind":"price-quote","metadata":{"price":"450"}}`, nil},
		{"price dispute", `{"kind":"price-dispute","metadata":{"original_price":500,"counter_price":420}}`, PriceDisputeMetadata{OriginalPrice: 500, CounterPrice: 420}},
		{"price dispute missing counter", `{"kind":"price-dispute","metadata":{"original_price":500}}`, nil},
		{"metadata not an object", `{"kind":"price-quote","metadata":"450"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(tt.json), &m))
			assert.Equal(t, tt.want, m.Metadata)
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	readAt := at(5)
	m := Message{
		ID:             "m1",
		ConversationID: "conv-a",
		AuthorID:       carrierID,
		Content:        "Contre-offre",
		Kind:           KindPriceDispute,
		Metadata:       PriceDisputeMetadata{OriginalPrice: 500, CounterPrice: 420},
		CreatedAt:      at(1),
		ReadAt:         &readAt,
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "price-dispute", wire["kind"])
	assert.Equal(t, "conv-a", wire["conversation_id"])
	assert.Equal(t, map[string]any{"original_price": float64(500), "counter_price": float64(420)}, wire["metadata"])
	assert.NotContains(t, wire, "author_name")

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.Metadata, back.Metadata)
	assert.True(t, back.IsRead())
}

func TestConversationParticipants(t *testing.T) {
	c := Conversation{OwnerID: shipperID, CounterpartyID: carrierID}
	assert.True(t, c.Involves(shipperID))
	assert.True(t, c.Involves(carrierID))
	assert.False(t, c.Involves(otherID))
	assert.False(t, c.Involves(""))
	assert.Equal(t, carrierID, c.Counterpart(shipperID))
	assert.Equal(t, shipperID, c.Counterpart(carrierID))
}

func TestMessageKindValid(t *testing.T) {
	assert.True(t, KindPriceDispute.Valid())
	assert.False(t, MessageKind("price_dispute").Valid())
}

func TestDraftEmpty(t *testing.T) {
	assert.True(t, Draft{}.Empty())
	assert.True(t, Draft{Text: "  \n"}.Empty())
	assert.False(t, Draft{Text: "ok"}.Empty())
	assert.False(t, Draft{Attachment: &Attachment{URL: "https://f/a", Name: "a"}}.Empty())
}

func TestResultDecodeAPIError(t *testing.T) {
	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"ok":false,"error":{"code":"FORBIDDEN","message":"not a participant"}}`), &r))
	assert.False(t, r.OK)
	require.NotNil(t, r.Error)
	assert.Equal(t, "FORBIDDEN: not a participant", r.Error.Error())
}
