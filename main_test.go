package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/halocore099/phone-repair-dashboard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *models.SyncReport {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &models.SyncReport{
		RunID:           "run-1",
		DryRun:          true,
		StartedAt:       start,
		FinishedAt:      start.Add(1500 * time.Millisecond),
		TotalConsidered: 3,
	}
	r.Record(models.ItemDetail{SKU: "1-2", Name: "iPhone 12 Screen", Status: models.StatusCreated})
	r.Record(models.ItemDetail{SKU: "1-3", Name: "iPhone 12 Battery", Status: models.StatusUnchanged})
	r.Record(models.ItemDetail{SKU: "2-2", Name: "Pixel 7 Screen", Status: models.StatusFailed, Reason: "status 400"})
	return r
}

func TestPrintReport_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "text"))

	out := buf.String()
	assert.Contains(t, out, "Sync run-1 (dry run) finished in 1.5s")
	assert.Contains(t, out, "created:    1")
	assert.Contains(t, out, "failed:     1")
	assert.Contains(t, out, "FAILED 2-2 (Pixel 7 Screen): status 400")
	assert.NotContains(t, out, "FAILED 1-2")
}

func TestPrintReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "json"))

	var decoded models.SyncReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, 1, decoded.Created)
	assert.Equal(t, 1, decoded.Failed)
	assert.Len(t, decoded.Details, 3)
}

func TestSyncCommand_RejectsUnknownFormat(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"sync", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}
