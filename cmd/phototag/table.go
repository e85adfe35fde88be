package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tstromberg/phototag/pkg/phototag"
	"github.com/tstromberg/phototag/pkg/schedule"
)

// summary renders one row per image, in the order they were admitted.
func summary(rs []schedule.Result, rejected []phototag.Rejected) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Image", "Size", "Time", "Result"})

	for _, r := range rs {
		seq := ""
		if r.Seq > 0 {
			seq = humanize.Comma(int64(r.Seq))
		}
		if r.Forced {
			seq += "*"
		}
		tw.AppendRow(table.Row{seq, r.Name, humanize.Bytes(uint64(r.Size)), r.Elapsed.Round(time.Millisecond), status(r.Err)})
	}
	for _, r := range rejected {
		tw.AppendRow(table.Row{"", r.Path, "", "", status(r.Err)})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
