package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
)

// BuildAlertsXLSX renders alerts as a spreadsheet with a summary sheet.
func BuildAlertsXLSX(alerts []escalation.Alert, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	counts := countBySeverity(alerts)
	_ = f.SetCellValue(summarySheet, "A1", "SafeFlame Alert Export")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Alerts")
	_ = f.SetCellValue(summarySheet, "B4", len(alerts))
	_ = f.SetCellValue(summarySheet, "A5", "Critical")
	_ = f.SetCellValue(summarySheet, "B5", counts[escalation.SeverityCritical])
	_ = f.SetCellValue(summarySheet, "A6", "Warning")
	_ = f.SetCellValue(summarySheet, "B6", counts[escalation.SeverityWarning])
	_ = f.SetCellValue(summarySheet, "A7", "Info")
	_ = f.SetCellValue(summarySheet, "B7", counts[escalation.SeverityInfo])

	headers := []string{"Time", "Zone", "Kind", "Severity", "Message", "Object", "ID"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(alertsSheet, cell, header)
	}
	for i, alert := range alerts {
		row := i + 2
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("A%d", row), alert.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("B%d", row), alert.Zone)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("C%d", row), string(alert.Kind))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("D%d", row), string(alert.Severity))
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("E%d", row), alert.Message)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("F%d", row), alert.Object)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("G%d", row), alert.ID)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders an incident report: current zone states followed by the alert list.
func BuildAlertsPDF(alerts []escalation.Alert, status application.Status, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "SafeFlame Incident Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Profile: %s (settings v%d)", status.Profile, status.SettingsVersion))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(alerts)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Zone", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "State", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Unattended (s)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Override", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, zone := range status.Zones {
		override := ""
		if zone.Override {
			override = "yes"
		}
		pdf.CellFormat(50, 6, zone.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, string(zone.State), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.0f", zone.UnattendedSeconds), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, override, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Zone", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Kind", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range alerts {
		pdf.CellFormat(40, 6, alert.Timestamp.UTC().Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, alert.Zone, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, string(alert.Kind), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(alert.Severity), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.MultiCell(0, 5, alert.Message, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func countBySeverity(alerts []escalation.Alert) map[escalation.Severity]int {
	counts := make(map[escalation.Severity]int, 3)
	for _, alert := range alerts {
		counts[alert.Severity]++
	}
	return counts
}
