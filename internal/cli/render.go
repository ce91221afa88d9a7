package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/brewkit/lmctl/internal/domain"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	offlineStyle = lipgloss.NewStyle().Faint(true)
)

// machineRow pairs a machine with its fetched status line. Status is empty
// for machines whose dashboard could not be read.
type machineRow struct {
	Machine domain.Machine
	Status  string
}

func renderMachines(w io.Writer, rows []machineRow) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.PaddingLeft(1).PaddingRight(1)
			}
			if rows[row].Machine.Connectivity() == domain.Offline {
				return offlineStyle.PaddingLeft(1).PaddingRight(1)
			}
			return lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
		}).
		Headers("NAME", "SERIAL", "MODEL", "STATUS")

	for _, r := range rows {
		status := r.Status
		if status == "" {
			status = "Unavailable"
		}
		t.Row(r.Machine.Name, r.Machine.SerialNumber, r.Machine.Model, status)
	}

	fmt.Fprintln(w, t.Render())
}

func renderStatus(w io.Writer, st domain.Status, now time.Time) {
	fmt.Fprintf(w, "%s: %s\n", st.SerialNumber, st.Describe(now))
}
