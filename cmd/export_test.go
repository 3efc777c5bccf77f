package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/brand-radar/internal/model"
)

func exportFixture() []model.Opportunity {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return []model.Opportunity{
		{
			ID: "CRIT-001", Type: model.OpportunityCompetitive, Title: "Close gap to Beta, Inc.",
			Target: "Beta, Inc.", Market: "us-en", Impact: 0.8123, Effort: 0.25, Tier: model.TierCritical,
			Evidence: []string{"competitive.us-en.crm.q1", "competitive.us-en.crm.q2"},
			Status:   model.OpportunityImplemented, ImplementedAt: &at, Notes: []string{"launched comparison page"},
		},
		{
			ID: "LOW-001", Type: model.OpportunitySource, Title: "Pitch news.example",
			Target: "news.example", Impact: 0.31, Effort: 0.7, Tier: model.TierLowPriority,
			Sources: []string{"https://news.example/a"}, Status: model.OpportunityOpen,
		},
	}
}

func TestWriteOpportunities_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOpportunities(&buf, "json", exportFixture()))

	var got []model.Opportunity
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "CRIT-001", got[0].ID)
	assert.Equal(t, model.OpportunityImplemented, got[0].Status)
}

func TestWriteOpportunities_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOpportunities(&buf, "json", nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestWriteOpportunities_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOpportunities(&buf, "csv", exportFixture()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportColumns, records[0])

	first := records[1]
	assert.Equal(t, "CRIT-001", first[0])
	assert.Equal(t, "Critical", first[1])
	assert.Equal(t, "Beta, Inc.", first[4])
	assert.Equal(t, "0.8123", first[5])
	assert.Equal(t, "0.25", first[6])
	assert.Equal(t, "2026-03-02T09:30:00Z", first[10])
	assert.Equal(t, "competitive.us-en.crm.q1; competitive.us-en.crm.q2", first[11])
	assert.Equal(t, "launched comparison page", first[13])

	second := records[2]
	assert.Equal(t, "", second[3])
	assert.Equal(t, "", second[10])
	assert.Equal(t, "https://news.example/a", second[12])
}

func TestWriteOpportunities_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opps.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writeOpportunities(f, "xlsx", exportFixture()))
	require.NoError(t, f.Close())

	book, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, book.Sheets, 1)
	sheet := book.Sheets[0]
	assert.Equal(t, "Opportunities", sheet.Name)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "notes", sheet.Rows[0].Cells[len(exportColumns)-1].String())
	assert.Equal(t, "CRIT-001", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "Close gap to Beta, Inc.", sheet.Rows[1].Cells[7].String())
	assert.Equal(t, "LOW-001", sheet.Rows[2].Cells[0].String())
}

func TestWriteOpportunities_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := writeOpportunities(&buf, "pdf", exportFixture())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
