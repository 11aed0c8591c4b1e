package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/camrig/internal/store"
	"github.com/andresmejia3/camrig/internal/types"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions [SESSION_ID]",
	Short: "List recorded sessions, or the camera files of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		if len(args) == 1 {
			outputs, err := DB.SessionOutputs(cmd.Context(), args[0])
			if err != nil {
				return fail("Failed to load session", err)
			}
			if len(outputs) == 0 {
				fmt.Println("No outputs recorded for that session.")
				return nil
			}
			renderOutputs(os.Stdout, outputs)
			return nil
		}

		sessions, err := DB.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return fail("Failed to list sessions", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found in database.")
			return nil
		}
		renderSessions(os.Stdout, sessions)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 50, "Maximum sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}

func newTable(w io.Writer, headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func renderSessions(w io.Writer, sessions []store.SessionSummary) {
	tw := newTable(w, "ID", "NAME", "STARTED", "LENGTH", "CAMERAS", "FAILED")
	for _, s := range sessions {
		tw.AppendRow(table.Row{
			s.ID,
			s.Name,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.StoppedAt.Sub(s.StartedAt).Round(time.Second).String(),
			s.Cameras,
			s.Failed,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	tw.Render()
}

func renderOutputs(w io.Writer, outputs []types.CameraOutput) {
	tw := newTable(w, "CAMERA", "PATH", "STATUS")
	for _, o := range outputs {
		status := "ok"
		if o.Err != nil {
			status = o.Err.Error()
		}
		tw.AppendRow(table.Row{o.CameraID, o.Path, status})
	}
	tw.SetCaption("%s camera(s)", strconv.Itoa(len(outputs)))
	tw.Render()
}
