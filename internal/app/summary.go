package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/specialistvlad/ortrain/internal/config"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
	"github.com/specialistvlad/ortrain/internal/registry"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// printSummary writes one row per object and pipeline.
func (a *App) printSummary(outcomes []Outcome) {
	t := newTable(a.outW)
	t.SetTitle("Training run " + a.opts.runID)
	t.AppendHeader(table.Row{"Object", "Pipeline", "Observations", "Model", "Duration", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})

	failed := 0
	for _, o := range outcomes {
		status := "ok"
		if o.Err != nil {
			status = "FAILED: " + o.Err.Error()
			failed++
		}
		t.AppendRow(table.Row{o.ObjectID, o.Pipeline, o.Observations, o.ModelID, o.Duration.Round(time.Millisecond), status})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d models", len(outcomes)-failed), "", fmt.Sprintf("%d failed", failed)})
	t.Render()
}

// ListPipelines discovers the pipelines of the given namespaces and writes
// them as a table. Modules that fail to register are listed too.
func ListPipelines(ctx context.Context, w io.Writer, catalog registry.Catalog, namespaces []string) error {
	res, err := registry.Discover(ctx, catalog, namespaces)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Listing pipelines.", "count", res.Registry.Len())

	t := newTable(w)
	t.AppendHeader(table.Row{"Type", "Namespace", "Module", "Config block"})
	for _, name := range res.Registry.Names() {
		e, err := res.Registry.Entry(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{name, e.Namespace, e.Module, config.BlockName(name)})
	}
	for _, f := range res.Failures {
		t.AppendRow(table.Row{"-", f.Namespace, f.Module, "registration failed: " + f.Err.Error()})
	}
	t.Render()
	return nil
}
