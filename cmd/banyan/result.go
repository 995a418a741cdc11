package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"github.com/polydawn/refmt/obj/atlas"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/repo"
)

/*
The result of any command.  Only the fields relevant to the command
that ran are set.  In json mode this whole object is the output.
*/
type Result struct {
	Repo     string          `refmt:"repo,omitempty"`
	Layer    string          `refmt:"layer,omitempty"`
	DryRun   bool            `refmt:"dryRun,omitempty"`
	Import   *ImportSummary  `refmt:"import,omitempty"`
	Restore  *RestoreSummary `refmt:"restore,omitempty"`
	Log      []LogLine       `refmt:"log,omitempty"`
	Verify   *VerifySummary  `refmt:"verify,omitempty"`
	Warnings []Problem       `refmt:"warnings,omitempty"`
	Error    *ErrorInfo      `refmt:"error,omitempty"`
}

type ImportSummary struct {
	Seq            uint64 `refmt:"seq"`
	Dirs           int64  `refmt:"dirs"`
	Files          int64  `refmt:"files"`
	Symlinks       int64  `refmt:"symlinks"`
	Specials       int64  `refmt:"specials"`
	Bytes          int64  `refmt:"bytes"`
	Skipped        int64  `refmt:"skipped"`
	ObjectsWritten int64  `refmt:"objectsWritten"`
	ObjectsReused  int64  `refmt:"objectsReused"`
	BytesWritten   int64  `refmt:"bytesWritten"`
}

type RestoreSummary struct {
	Placed  int      `refmt:"placed"`
	Skipped []string `refmt:"skipped,omitempty"`
}

type LogLine struct {
	Layer   string `refmt:"layer"`
	Seq     uint64 `refmt:"seq"`
	Parent  string `refmt:"parent,omitempty"`
	Created string `refmt:"created"`
	Source  string `refmt:"source"`
	Entries int    `refmt:"entries"`
}

type VerifySummary struct {
	Layers   int       `refmt:"layers"`
	Contents int       `refmt:"contents"`
	Problems []Problem `refmt:"problems,omitempty"`
}

type Problem struct {
	Layer string `refmt:"layer,omitempty"`
	Path  string `refmt:"path"`
	Error string `refmt:"error"`
}

type ErrorInfo struct {
	Category string `refmt:"category"`
	Message  string `refmt:"message"`
}

var resultAtlas = atlas.MustBuild(
	atlas.BuildEntry(Result{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(ImportSummary{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(RestoreSummary{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(LogLine{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(VerifySummary{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(Problem{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(ErrorInfo{}).StructMap().Autogenerate().Complete(),
)

func importResult(ir *repo.ImportResult) *Result {
	res := &Result{
		Layer:  ir.ID.String(),
		DryRun: ir.DryRun,
		Import: &ImportSummary{
			Seq:            ir.Manifest.Seq,
			Dirs:           ir.Walk.Stats.Dirs,
			Files:          ir.Walk.Stats.Files,
			Symlinks:       ir.Walk.Stats.Symlinks,
			Specials:       ir.Walk.Stats.Specials,
			Bytes:          ir.Walk.Stats.Bytes,
			Skipped:        ir.Walk.Stats.Skipped,
			ObjectsWritten: ir.Objects.Written,
			ObjectsReused:  ir.Objects.Reused,
			BytesWritten:   ir.Objects.BytesWritten,
		},
	}
	for _, w := range ir.Walk.Warnings {
		res.Warnings = append(res.Warnings, Problem{Path: w.Path.String(), Error: w.Err.Error()})
	}
	return res
}

func restoreResult(rr *repo.RestoreResult) *Result {
	res := &Result{Layer: rr.Layer.String(), Restore: &RestoreSummary{Placed: rr.Placed}}
	for _, p := range rr.Skipped {
		res.Restore.Skipped = append(res.Restore.Skipped, p.String())
	}
	return res
}

func logResult(entries []repo.LogEntry) *Result {
	res := &Result{Log: make([]LogLine, 0, len(entries))}
	for _, ent := range entries {
		line := LogLine{
			Layer:   ent.ID.String(),
			Seq:     ent.Manifest.Seq,
			Created: ent.Manifest.Created.Format(time.RFC3339),
			Source:  ent.Manifest.Source,
			Entries: len(ent.Manifest.Entries),
		}
		if ent.Manifest.Parent != nil {
			line.Parent = ent.Manifest.Parent.String()
		}
		res.Log = append(res.Log, line)
	}
	return res
}

func verifyResult(report *repo.VerifyReport) *Result {
	res := &Result{Verify: &VerifySummary{Layers: report.Layers, Contents: report.Contents}}
	for _, p := range report.Problems {
		res.Verify.Problems = append(res.Verify.Problems, Problem{Layer: p.Layer.String(), Path: p.Path.String(), Error: p.Err.Error()})
	}
	return res
}

/*
Write the result in the requested format, and pick the exit code.
In dumb mode, the one thing a script wants (a layer ID, a path)
goes to stdout; everything for humans goes to stderr.
*/
func emit(format string, res *Result, resultErr error, stdout, stderr io.Writer) api.ExitCode {
	if res == nil {
		res = &Result{}
	}
	code := api.ExitCodeForCategory(Category(resultErr))
	if resultErr != nil {
		res.Error = &ErrorInfo{
			Category: fmt.Sprint(Category(resultErr)),
			Message:  resultErr.Error(),
		}
	}
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{Line: []byte{'\n'}, Indent: []byte{'\t'}}, stdout, resultAtlas)
		if err := marshaller.Marshal(res); err != nil {
			panic(err)
		}
		fmt.Fprintln(stdout)
	case FmtDumb:
		emitDumb(res, code, stdout, stderr)
	default:
		panic(fmt.Errorf("banyan: invalid format %s", format))
	}
	return code
}

func emitDumb(res *Result, code api.ExitCode, stdout, stderr io.Writer) {
	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "warning: %s: %s\n", w.Path, w.Error)
	}
	if res.Verify != nil {
		for _, p := range res.Verify.Problems {
			fmt.Fprintf(stderr, "problem: layer %s: %s: %s\n", p.Layer, p.Path, p.Error)
		}
	}
	if res.Error != nil {
		fmt.Fprintln(stderr, res.Error.Message)
		if code == api.ExitInconsistent {
			fmt.Fprintln(stderr, "the repository may be inconsistent; run `banyan verify`")
		}
		return
	}
	switch {
	case res.Repo != "":
		fmt.Fprintln(stdout, res.Repo)
	case res.Import != nil:
		im := res.Import
		fmt.Fprintln(stdout, res.Layer)
		dry := ""
		if res.DryRun {
			dry = " (dry run)"
		}
		fmt.Fprintf(stderr, "layer %d%s: %s files, %s dirs, %s symlinks, %s special; %s total\n",
			im.Seq, dry,
			humanize.Comma(im.Files), humanize.Comma(im.Dirs), humanize.Comma(im.Symlinks), humanize.Comma(im.Specials),
			humanize.IBytes(uint64(im.Bytes)))
		fmt.Fprintf(stderr, "objects: %s written (%s), %s reused\n",
			humanize.Comma(im.ObjectsWritten), humanize.IBytes(uint64(im.BytesWritten)), humanize.Comma(im.ObjectsReused))
		if im.Skipped > 0 {
			fmt.Fprintf(stderr, "skipped %s unreadable paths\n", humanize.Comma(im.Skipped))
		}
	case res.Restore != nil:
		for _, p := range res.Restore.Skipped {
			fmt.Fprintf(stderr, "skipped: %s\n", p)
		}
		fmt.Fprintln(stdout, res.Layer)
	case res.Log != nil:
		for _, line := range res.Log {
			fmt.Fprintf(stdout, "%s  %4d  %s  %s (%d entries)\n", line.Layer, line.Seq, line.Created, line.Source, line.Entries)
		}
	case res.Verify != nil:
		fmt.Fprintf(stdout, "ok: %d layers, %d contents verified\n", res.Verify.Layers, res.Verify.Contents)
	}
}
