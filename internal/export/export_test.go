package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/source"
)

var records = []counterparty.Counterparty{
	{
		TaxID:         "7801234567",
		Name:          `ООО "Ромашка", филиал`,
		KPP:           "780101001",
		Status:        counterparty.StatusSent,
		StatusChanged: time.Date(2025, 3, 7, 10, 30, 0, 0, time.Local),
		OperatorOrgID: "org-1",
		OperatorBoxID: "box-1",
	},
	{TaxID: "784806000000", Name: "ИП Петров Петр Петрович"},
}

func TestWriteCSV_RoundTripsThroughSource(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), utf8BOM))

	table, err := source.Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ',', table.Delimiter)
	assert.Equal(t, source.Columns, table.Header)

	got := table.Counterparties()
	require.Len(t, got, 2)
	assert.Equal(t, records[0], got[0])
	assert.Equal(t, records[1], got[1])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, WriteJSON(&buf, "kadis", records[1:], now))

	var got RegistryExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "kadis", got.Company)
	assert.Equal(t, "2025-03-07T12:00:00Z", got.ExportedAt)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "784806000000", got.Records[0].TaxID)
	assert.NotContains(t, buf.String(), "status_changed", "zero dates are omitted")
}

func TestWriteJSON_EmptyRegistry(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, "uri", nil, time.Now()))
	assert.Contains(t, buf.String(), `"records": []`)
}
