package repo

import (
	"os"

	"github.com/google/renameio"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"github.com/polydawn/refmt/obj/atlas"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/content"
)

const (
	formatName    = "banyan"
	FormatVersion = 1
)

/*
The `format` file marks a directory as a repository, and carries the
parameters that must never change over the repository's life.
It's written last during init, so its presence means init finished.
*/
type formatFile struct {
	Format   string         `refmt:"format"`
	Version  int            `refmt:"version"`
	Chunking content.Params `refmt:"chunking"`
}

var formatAtlas = atlas.MustBuild(
	atlas.BuildEntry(formatFile{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(content.Params{}).StructMap().Autogenerate().Complete(),
)

func writeFormat(filename string, ff formatFile) error {
	bs, err := refmt.MarshalAtlased(json.EncodeOptions{Line: []byte{'\n'}, Indent: []byte{'\t'}}, ff, formatAtlas)
	if err != nil {
		return Errorf(api.ErrIO, "cannot encode format file: %s", err)
	}
	if err := renameio.WriteFile(filename, append(bs, '\n'), 0444); err != nil {
		return Errorf(api.ErrIO, "cannot write format file: %s", err)
	}
	return nil
}

/*
Errors:

  - `api.ErrNotFound` -- if there's no format file (not a repository)
  - `api.ErrCorruptData` -- if it's unreadable or nonsensical
  - `api.ErrVersionMismatch` -- if it's from a version we don't know
*/
func readFormat(filename string) (formatFile, error) {
	var ff formatFile
	bs, err := os.ReadFile(filename)
	switch {
	case os.IsNotExist(err):
		return ff, Errorf(api.ErrNotFound, "not a banyan repository (no %s)", filename)
	case err != nil:
		return ff, Errorf(api.ErrIO, "cannot read format file: %s", err)
	}
	if err := refmt.UnmarshalAtlased(json.DecodeOptions{}, bs, &ff, formatAtlas); err != nil {
		return ff, Errorf(api.ErrCorruptData, "cannot decode format file: %s", err)
	}
	if ff.Format != formatName {
		return ff, Errorf(api.ErrCorruptData, "format file names format %q, not %q", ff.Format, formatName)
	}
	if ff.Version != FormatVersion {
		return ff, Errorf(api.ErrVersionMismatch, "repository format version %d is not supported (expected %d)", ff.Version, FormatVersion)
	}
	if err := ff.Chunking.Validate(); err != nil {
		return ff, Errorf(api.ErrCorruptData, "format file has bad chunking parameters: %s", err)
	}
	return ff, nil
}
