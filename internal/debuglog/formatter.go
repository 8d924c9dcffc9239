package debuglog

import (
	"fmt"
	"io"
)

// FormatOptions controls Format output.
type FormatOptions struct {
	Verbose bool // print raw JSON per entry
	Tail    int  // only the last N entries, 0 for all
}

// Format writes a human-readable rendering of the entries.
func Format(w io.Writer, entries []Entry, opts FormatOptions) {
	if opts.Tail > 0 && len(entries) > opts.Tail {
		entries = entries[len(entries)-opts.Tail:]
	}
	for _, e := range entries {
		ts := e.Timestamp.Format("15:04:05.000")
		switch e.Type {
		case "request":
			fmt.Fprintf(w, "%s  request  %s", ts, e.Provider)
			if e.Model != "" {
				fmt.Fprintf(w, " model=%s", e.Model)
			}
			fmt.Fprintf(w, " messages=%d", e.Messages)
			if e.Tools > 0 {
				fmt.Fprintf(w, " tools=%d", e.Tools)
			}
			fmt.Fprintln(w)
		case "event":
			fmt.Fprintf(w, "%s  event    %s\n", ts, e.EventType)
		default:
			fmt.Fprintf(w, "%s  %s\n", ts, e.Type)
		}
		if opts.Verbose {
			fmt.Fprintf(w, "    %s\n", e.Raw)
		}
	}
}
