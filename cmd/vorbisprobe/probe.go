package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vorbisprobe/decode"
	"github.com/zsiec/vorbisprobe/diag"
	"github.com/zsiec/vorbisprobe/internal/pipeline"
	"github.com/zsiec/vorbisprobe/internal/source"
)

// Exit codes of the probe subcommand.
const (
	exitOK      = 0
	exitFatal   = 1
	exitUsage   = 2
	exitWarning = 3
)

type probeResult struct {
	Source string                `json:"source"`
	Status decode.Status         `json:"status"`
	Result *decode.Result        `json:"result,omitempty"`
	Error  *pipeline.ErrorReport `json:"error,omitempty"`
}

func runProbe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "write results as JSON")
	concurrency := fs.Int("concurrency", runtime.NumCPU(), "number of sources probed at once")
	partition := fs.Int("partition", 0, "partition to read inside disk images (0 for the whole disk)")
	useMmap := fs.Bool("mmap", false, "memory-map plain files")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	sources := fs.Args()
	if len(sources) == 0 || *concurrency < 1 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	opts := []source.Option{source.WithPartition(*partition)}
	if *useMmap {
		opts = append(opts, source.WithMmap())
	}

	results := make([]probeResult, len(sources))
	var g errgroup.Group
	g.SetLimit(*concurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = probeSource(src, opts...)
			return nil
		})
	}
	g.Wait()

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintln(stderr, err)
			return exitFatal
		}
	} else {
		for _, r := range results {
			writeText(stdout, r)
		}
	}
	return exitCode(results)
}

func probeSource(spec string, opts ...source.Option) probeResult {
	pr := probeResult{Source: spec}
	rc, err := source.Open(spec, opts...)
	if err != nil {
		pr.Status = decode.StatusFatal
		pr.Error = &pipeline.ErrorReport{Kind: diag.IO, Message: err.Error()}
		return pr
	}
	defer rc.Close()

	res, err := decode.Decode(rc)
	pr.Status = decode.StatusOf(res, err)
	pr.Result = res
	if err != nil {
		pr.Error = &pipeline.ErrorReport{Kind: diag.KindOf(err), Message: err.Error()}
	}
	return pr
}

func exitCode(results []probeResult) int {
	code := exitOK
	for _, r := range results {
		switch r.Status {
		case decode.StatusFatal:
			return exitFatal
		case decode.StatusWarning:
			code = exitWarning
		}
	}
	return code
}

func writeText(w io.Writer, r probeResult) {
	fmt.Fprintf(w, "%s: %s\n", r.Source, r.Status)
	if res := r.Result; res != nil && res.Pages > 0 {
		fmt.Fprintf(w, "  serial %d, %d pages, %d audio packets (%d bytes), %.2fs\n",
			res.SerialNumber, res.Pages, res.AudioPackets, res.AudioBytes, res.DurationSeconds())
		if id := res.Identification; id != nil {
			short, long := id.Blocksizes()
			fmt.Fprintf(w, "  vorbis %d, %d ch, %d Hz, bitrate %d/%d/%d, blocksizes %d/%d\n",
				id.Version, id.Channels, id.SampleRate,
				id.BitrateMaximum, id.BitrateNominal, id.BitrateMinimum, short, long)
		}
		if c := res.Comments; c != nil {
			fmt.Fprintf(w, "  vendor %q\n", c.Vendor)
			for _, cm := range c.Comments {
				fmt.Fprintf(w, "  comment %s\n", cm)
			}
		}
		for _, wn := range res.Warnings {
			fmt.Fprintf(w, "  warning %s\n", wn)
		}
	}
	if r.Error != nil {
		fmt.Fprintf(w, "  error %s: %s\n", r.Error.Kind, r.Error.Message)
	}
}
