package webhook

import (
	"fmt"
	"io"
	"strings"
	"time"

	"killtracker/internal/models"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

var messageHeaders = []string{"Message ID", "Created At", "Content", "Title", "URL", "Embeds"}

// FailedReport holds the failed messages of one webhook.
type FailedReport struct {
	Webhook  *models.Webhook
	Messages []*models.Message
}

// WriteFailedReport writes an XLSX workbook with a summary sheet and one
// sheet of failed messages per webhook.
func WriteFailedReport(w io.Writer, reports []FailedReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, summarySheet, 1, []any{"Webhook ID", "Webhook", "Failed Messages"}); err != nil {
		return err
	}
	if err := f.SetRowStyle(summarySheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, r := range reports {
		if err := writeRow(f, summarySheet, i+2, []any{r.Webhook.ID, r.Webhook.Name, len(r.Messages)}); err != nil {
			return err
		}

		sheet := sheetName(r.Webhook)
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", sheet, err)
		}
		headers := make([]any, len(messageHeaders))
		for j, h := range messageHeaders {
			headers[j] = h
		}
		if err := writeRow(f, sheet, 1, headers); err != nil {
			return err
		}
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", "B", 38); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
		if err := f.SetColWidth(sheet, "C", "E", 50); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}

		for j, msg := range r.Messages {
			var title, url string
			if len(msg.Embeds) > 0 && msg.Embeds[0] != nil {
				title, url = msg.Embeds[0].Title, msg.Embeds[0].URL
			}
			row := []any{msg.ID, msg.CreatedAt.UTC().Format(time.RFC3339), msg.Content, title, url, len(msg.Embeds)}
			if err := writeRow(f, sheet, j+2, row); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %q: %w", row, sheet, err)
	}
	return nil
}

// sheetName builds a valid, unique sheet name for a webhook.
func sheetName(w *models.Webhook) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, fmt.Sprintf("%d %s", w.ID, w.Name))
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}
