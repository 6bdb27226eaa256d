// Package report renders solver and transaction results for humans and,
// in JSON mode, for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/marimeireles/mamba/internal/engine/transaction"
	"github.com/muesli/termenv"
)

// Printer writes user-facing reports. One printer serves one command
// invocation.
type Printer struct {
	w      io.Writer
	out    *termenv.Output
	json   bool
	quiet  bool
	dryRun bool
}

// New creates a Printer on w. Color degrades automatically when w is not a
// terminal or NO_COLOR is set.
func New(w io.Writer, opts domain.Options) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		w:      w,
		out:    termenv.NewOutput(w, termenv.WithProfile(colorProfile())),
		json:   opts.JSON,
		quiet:  opts.Quiet,
		dryRun: opts.DryRun,
	}
}

func colorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

type transactionReport struct {
	Prefix string           `json:"prefix"`
	DryRun bool             `json:"dry_run"`
	Unlink []*domain.Record `json:"unlink"`
	Link   []*domain.Record `json:"link"`
}

// Transaction prints the planned steps. In JSON mode it emits a single
// object with unlink and link lists; otherwise a colored diff with a
// download size summary.
func (p *Printer) Transaction(prefix string, steps []transaction.Step) error {
	rep := transactionReport{
		Prefix: prefix,
		DryRun: p.dryRun,
		Unlink: []*domain.Record{},
		Link:   []*domain.Record{},
	}
	for _, step := range steps {
		if step.Kind == transaction.StepUnlink {
			rep.Unlink = append(rep.Unlink, step.Record)
		} else {
			rep.Link = append(rep.Link, step.Record)
		}
	}

	if p.json {
		return p.encode(rep)
	}
	if p.quiet {
		return nil
	}

	if len(steps) == 0 {
		fmt.Fprintf(p.w, "Nothing to do, prefix is up to date: %s\n", prefix)
		return nil
	}

	fmt.Fprintf(p.w, "\nTransaction for prefix %s\n\n", prefix)
	for _, rec := range rep.Unlink {
		marker := p.out.String("-").Foreground(termenv.ANSIRed).String()
		fmt.Fprintf(p.w, "  %s %s\n", marker, rec.Identity())
	}

	var download uint64
	for _, rec := range rep.Link {
		marker := p.out.String("+").Foreground(termenv.ANSIGreen).String()
		fmt.Fprintf(p.w, "  %s %s  %s  %s\n",
			marker, rec.Identity(), rec.Channel.String(), humanize.IBytes(uint64(rec.Size)))
		download += uint64(rec.Size)
	}

	fmt.Fprintf(p.w, "\n  Summary: %d to unlink, %d to link, %s to download\n\n",
		len(rep.Unlink), len(rep.Link), humanize.IBytes(download))
	if p.dryRun {
		fmt.Fprintln(p.w, "Dry run, nothing was changed.")
	}
	return nil
}

// Environment prints the installed snapshot of a prefix.
func (p *Printer) Environment(prefix string, records []*domain.Record) error {
	if p.json {
		return p.encode(struct {
			Prefix  string           `json:"prefix"`
			Records []*domain.Record `json:"records"`
		}{Prefix: prefix, Records: records})
	}

	fmt.Fprintf(p.w, "Packages in %s:\n\n", prefix)
	tw := tabwriter.NewWriter(p.w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tVERSION\tBUILD\tCHANNEL")
	for _, rec := range records {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", rec.Name, rec.Version, rec.Build, rec.Channel.String())
	}
	return tw.Flush()
}

// Done prints the closing success line.
func (p *Printer) Done() {
	if p.json || p.quiet {
		return
	}
	fmt.Fprintln(p.w, p.out.String("Transaction finished.").Foreground(termenv.ANSIGreen).String())
}

func (p *Printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
