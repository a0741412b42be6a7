package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/pbxmon/internal/status"
)

func renderReport(report status.Report) string {
	var b strings.Builder
	b.WriteString(report.Summary())
	b.WriteString("\n\n")

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATE\tAGE\tENDPOINTS\tCALLS\tSEVERITY")
	for _, target := range report.Targets {
		age := target.Age
		if age == "" {
			age = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			target.Target, target.State, age,
			target.Endpoints, target.Channels, target.Severity)
	}
	_ = w.Flush()

	if len(report.Attention) > 0 {
		b.WriteString("\n")
		b.WriteString(renderAttention(report))
	}
	return b.String()
}

func renderAttention(report status.Report) string {
	if len(report.Attention) == 0 {
		return "nothing needs attention\n"
	}
	var b strings.Builder
	for _, item := range report.Attention {
		fmt.Fprintf(&b, "[%s] %s: %s\n", strings.ToUpper(string(item.Severity)), item.Target, item.Message)
	}
	return b.String()
}
