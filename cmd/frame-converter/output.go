package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/pterm/pterm"

	"frame-converter-go/internal/converter"
	"frame-converter-go/internal/progress"
	"frame-converter-go/internal/scanner"
	"frame-converter-go/internal/statistics"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	subtle = color.New(color.FgHiBlack).SprintFunc()
)

// barMu guards the active bar; notices printed from the signal goroutine
// must not interleave with a redraw.
var barMu sync.Mutex

// startBar starts a counted progress bar. Tests replace it.
var startBar = func(total int, title string) (*pterm.ProgressbarPrinter, error) {
	return pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(title).
		WithShowCount(true).
		WithShowElapsedTime(true).
		Start()
}

// renderProgress draws one progress bar per encoding pass until the stream
// ends or the job finishes.
func renderProgress(events <-chan progress.Event) {
	var (
		bar    *pterm.ProgressbarPrinter
		phase  string
		drawn  int
		stopUI = func() {
			if bar != nil {
				bar.Stop()
				bar = nil
			}
		}
	)

	for e := range events {
		barMu.Lock()
		switch {
		case e.Phase == progress.PhaseFinished:
			stopUI()
			barMu.Unlock()
			return

		case strings.HasPrefix(e.Phase, "Encoding ") && e.Total > 0:
			if phase != e.Phase {
				stopUI()
				phase, drawn = e.Phase, 0
				pb, err := startBar(e.Total, e.Phase)
				if err != nil {
					pterm.Warning.Printfln("%s (no progress bar: %v)", e.Phase, err)
				} else {
					bar = pb
				}
			}
			if delta := e.Current - drawn; delta > 0 && bar != nil {
				bar.Add(delta)
				drawn = e.Current
			}

		case e.Phase == progress.PhaseCompressing:
			stopUI()
			pterm.Info.Printfln("%s %s", e.Phase, subtle(e.File))
		}
		barMu.Unlock()
	}

	barMu.Lock()
	stopUI()
	barMu.Unlock()
}

func printNotice(msg string) {
	barMu.Lock()
	defer barMu.Unlock()
	pterm.Warning.Println(msg)
}

func printScan(res *scanner.ScanResult) {
	fmt.Printf("%s %d\n", bold("Frames:"), res.Total)
	if res.BaseSize != nil {
		fmt.Printf("%s %dx%d\n", bold("Size:"), res.BaseSize.Width, res.BaseSize.Height)
	} else if res.Total > 0 {
		first := res.Files[0]
		fmt.Printf("%s %s (first frame %dx%d)\n", bold("Size:"), yellow("mixed"), first.Width, first.Height)
	}
	if !verbose {
		return
	}
	for _, f := range res.Files {
		fmt.Printf("  %s %s\n", subtle(fmt.Sprintf("%dx%d", f.Width, f.Height)), f.Path)
	}
}

func printResults(results []converter.ConvertResult) {
	fmt.Println()
	for _, r := range results {
		label := cyan(fmt.Sprintf("%-5s", strings.ToUpper(r.Format)))
		switch {
		case !r.Success && r.ErrorKind == converter.KindCancelled:
			fmt.Printf("%s %s %s\n", yellow("-"), label, subtle("cancelled"))
		case !r.Success:
			fmt.Printf("%s %s %s\n", red("✗"), label, r.Error)
		default:
			fmt.Printf("%s %s %s %s\n", green("✓"), label, r.Path, sizeText(r))
			if r.Error != "" {
				fmt.Printf("      %s %s\n", yellow("compression skipped:"), r.Error)
			}
		}
	}
}

func sizeText(r converter.ConvertResult) string {
	if r.OriginalSize == nil || r.CompressedSize == nil {
		return ""
	}
	orig, comp := int64(*r.OriginalSize), int64(*r.CompressedSize)
	if comp >= orig {
		return subtle(statistics.FormatBytes(orig))
	}
	saved := float64(orig-comp) * 100 / float64(orig)
	return subtle(fmt.Sprintf("%s -> %s (-%.1f%%)",
		statistics.FormatBytes(orig), statistics.FormatBytes(comp), saved))
}
