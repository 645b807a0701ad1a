package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tobyh/cirrus/pkg/provider"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - in progress / warnings
	colorRed    = lipgloss.Color("167") // Soft red - failures
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
	colorWhite  = lipgloss.Color("255") // Bright white - values
)

// =============================================================================
// Styles
// =============================================================================

var (
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleFailure = lipgloss.NewStyle().Foreground(colorRed)
	styleWorking = lipgloss.NewStyle().Foreground(colorYellow)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleValue   = lipgloss.NewStyle().Foreground(colorWhite)
	styleIcon    = lipgloss.NewStyle().Foreground(colorGray)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
)

// statusStyle picks the render style for a remote stack status:
// failures and rollbacks red, completed green, everything still moving
// yellow.
func statusStyle(status string) lipgloss.Style {
	switch {
	case strings.HasSuffix(status, "_FAILED"),
		strings.HasPrefix(status, "ROLLBACK"),
		strings.HasPrefix(status, "UPDATE_ROLLBACK"),
		status == provider.StatusGone:
		return styleFailure
	case strings.HasSuffix(status, "_COMPLETE"):
		return styleSuccess
	default:
		return styleWorking
	}
}

// printStackEvent renders one stack event line while watching an
// operation.
func printStackEvent(id string, e provider.Event) {
	fmt.Println(styleDim.Render(e.Timestamp.Format("15:04:05"))+" "+
		styleDim.Render(id)+" "+
		styleValue.Render(e.LogicalID)+" "+
		styleDim.Render(e.ResourceType)+" "+
		statusStyle(e.Status).Render(e.Status),
		styleDim.Render(e.StatusReason))
}

// =============================================================================
// Status Output
// =============================================================================

// printSuccess prints a success message.
func printSuccess(format string, args ...any) {
	fmt.Println(styleSuccess.Render(iconSuccess) + " " + fmt.Sprintf(format, args...))
}

// printError prints an error message.
func printError(format string, args ...any) {
	fmt.Println(styleFailure.Render(iconError) + " " + fmt.Sprintf(format, args...))
}

// printWarning prints a warning message.
func printWarning(format string, args ...any) {
	fmt.Println(styleWorking.Render(iconWarning) + " " + fmt.Sprintf(format, args...))
}

// printInfo prints an info/status message.
func printInfo(format string, args ...any) {
	fmt.Println(styleIcon.Render(iconInfo) + " " + fmt.Sprintf(format, args...))
}
