package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/signalsfoundry/sehir-simulator/model"
)

func writeJSON(w io.Writer, snaps []model.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snaps)
}

// writeTable prints one row per step with a column per compartment.
func writeTable(w io.Writer, snaps []model.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "step\t")
	for _, c := range model.Compartments {
		fmt.Fprintf(tw, "%s\t", c)
	}
	fmt.Fprintln(tw)
	for _, s := range snaps {
		fmt.Fprintf(tw, "%d\t", s.Step)
		for _, c := range model.Compartments {
			fmt.Fprintf(tw, "%d\t", s.Counts.Get(c))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
