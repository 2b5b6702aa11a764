package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusHistoryAppend(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	history := StatusHistory{}
	history = history.Append(StatusPending, base)
	history = history.Append(StatusApproved, base.Add(time.Hour))
	history = history.Append(StatusCompleted, base.Add(2*time.Hour))

	assert.Len(t, history, 3)
	assert.Equal(t, StatusPending, history[0].Status)
	assert.Equal(t, StatusApproved, history[1].Status)
	assert.Equal(t, StatusCompleted, history[2].Status)

	// Earlier entries stay untouched when the slice grows.
	snapshot := history[:2]
	_ = history.Append(StatusRejected, base.Add(3*time.Hour))
	assert.Equal(t, StatusApproved, snapshot[1].Status)
}

func TestStatusHistoryValueScanRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	history := StatusHistory{}.Append(StatusPending, base).Append(StatusSent, base.Add(time.Hour))

	value, err := history.Value()
	assert.NoError(t, err)

	var decoded StatusHistory
	assert.NoError(t, decoded.Scan(value))
	assert.Equal(t, history, decoded)
}

func TestStatusHistoryNilValue(t *testing.T) {
	var history StatusHistory
	value, err := history.Value()
	assert.NoError(t, err)
	assert.Equal(t, []byte("[]"), value)
}

func TestStringListNullability(t *testing.T) {
	var list StringList
	value, err := list.Value()
	assert.NoError(t, err)
	assert.Nil(t, value)

	assert.NoError(t, list.Scan(nil))
	assert.Nil(t, list)

	assert.NoError(t, list.Scan([]byte(`["transcript.pdf","idproof.pdf"]`)))
	assert.Equal(t, StringList{"transcript.pdf", "idproof.pdf"}, list)
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := Metadata{"method": "upi", "bank": "HDFC"}
	value, err := meta.Value()
	assert.NoError(t, err)

	var decoded Metadata
	assert.NoError(t, decoded.Scan(value))
	assert.Equal(t, meta, decoded)
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusPending, StatusApproved, StatusRejected, StatusUploaded,
		StatusResubmit, StatusSent, StatusReceived, StatusCompleted} {
		assert.True(t, ValidStatus(s), s)
	}
	assert.False(t, ValidStatus("Archived"))
	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("completed"))
}

func TestDocumentJSONShape(t *testing.T) {
	doc := Document{
		DocumentID:    12,
		ApplicationID: "APP-001",
		Status:        StatusApproved,
		Files:         DocumentFiles{{DocumentType: "transcript", FilePath: "/files/t.pdf", Mimetype: "application/pdf"}},
	}

	data, err := json.Marshal(doc)
	assert.NoError(t, err)

	var raw map[string]any
	assert.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "APP-001", raw["application_id"])
	assert.Equal(t, "Approved", raw["status"])
	assert.Contains(t, raw, "status_history")
}
