package tablewriter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyTableWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Render()
	require.Empty(t, buf.String())
}

func TestHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader([]string{"STEP", "STATE", "DURATION"})
	w.Append([]string{"fetch-user", "success", "29ms"})
	w.Append([]string{"charge", "error", "1.2s"})
	w.Render()

	expected := `+------------+---------+----------+
| STEP       | STATE   | DURATION |
+------------+---------+----------+
| fetch-user | success | 29ms     |
| charge     | error   | 1.2s     |
+------------+---------+----------+
`
	require.Equal(t, expected, buf.String())
}

func TestRowsWithoutHeader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Append([]string{"fetch", "12ms"})
	w.Append([]string{"notify", "3ms"})
	w.Render()

	require.Contains(t, buf.String(), "| fetch  | 12ms |")
	require.Contains(t, buf.String(), "| notify | 3ms  |")
}

func TestRaggedRowsFollowHeaderColumnCount(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader([]string{"STEP", "STATE", "RETRIES"})
	w.Append([]string{"fetch"})
	w.Append([]string{"charge", "error", "2", "ignored"})
	w.Render()

	out := buf.String()
	require.Contains(t, out, "| fetch  |")
	require.Contains(t, out, "| charge | error | 2")
	require.NotContains(t, out, "ignored")
}

func TestWideRunesAlign(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader([]string{"STEP", "STATE"})
	w.Append([]string{"通知を送る", "success"})
	w.Append([]string{"fetch", "error"})
	w.Render()

	// Wide runes occupy two display cells each; every line must still have
	// the same visual width.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	width := cellWidth(lines[0])
	for _, line := range lines {
		require.Equal(t, width, cellWidth(line))
	}
}

func TestANSIColorsExcludedFromWidths(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader([]string{"STEP", "STATE"})
	w.Append([]string{"fetch", "\033[32msuccess\033[0m"})
	w.Append([]string{"charge", "\033[31merror\033[0m"})
	w.Render()

	out := buf.String()
	require.Contains(t, out, "\033[32m")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	width := cellWidth(lines[0])
	for _, line := range lines {
		require.Equal(t, width, cellWidth(line))
	}
}
