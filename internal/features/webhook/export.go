package webhook

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// LogExport is a rendered delivery-log download.
type LogExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

const exportFetchLimit = 10000

// ExportLogs renders the (filtered) delivery history as csv, json or xlsx.
func (s *WebhookServiceImpl) ExportLogs(ctx context.Context, ownerID, id string, opts LogOptions, format string) (*LogExport, error) {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return nil, err
	}

	opts.Page = 1
	opts.Limit = exportFetchLimit
	logs, _, err := s.LogRepo.List(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format = "csv"
	}
	stamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("webhook_%s_logs_%s.%s", id, stamp, format)

	switch format {
	case "json":
		data, err := json.Marshal(logs)
		if err != nil {
			return nil, err
		}
		return &LogExport{Filename: filename, ContentType: "application/json", Data: data}, nil
	case "csv":
		data, err := renderCSV(logs)
		if err != nil {
			return nil, err
		}
		return &LogExport{Filename: filename, ContentType: "text/csv", Data: data}, nil
	case "xlsx":
		data, err := renderXLSX(logs)
		if err != nil {
			return nil, err
		}
		return &LogExport{
			Filename:    filename,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	default:
		return nil, validationError("format must be one of csv, json, xlsx")
	}
}

var exportColumns = []string{"ID", "Event", "Status", "Attempts", "HTTP Status", "Error", "Duration (ms)", "Last Attempt", "Created"}

func exportRow(a DeliveryAttempt) []string {
	httpStatus := ""
	if a.Response != nil {
		httpStatus = strconv.Itoa(a.Response.StatusCode)
	}
	return []string{
		a.ID.Hex(),
		a.Event,
		string(a.Status),
		strconv.Itoa(a.AttemptCount),
		httpStatus,
		a.Error,
		strconv.FormatInt(a.DurationMs, 10),
		a.LastAttemptAt.UTC().Format(time.RFC3339),
		a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func renderCSV(logs []DeliveryAttempt) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportColumns); err != nil {
		return nil, err
	}
	for _, a := range logs {
		if err := w.Write(exportRow(a)); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(logs []DeliveryAttempt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Deliveries"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	for i, col := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, col)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for rowIdx, a := range logs {
		for colIdx, val := range exportRow(a) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheet, cell, val)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
