/*
Helpers for loading contextual config.

Config for banyan means "things that are the host machine operator's concerns":
where the repository lives, how many workers to spend, what to do about
unreadable directories.  Things which change the repository's bitstream
(like chunking parameters) are *not* config; they're fixed when the
repository is initialized, and recorded in its format file.

There are two sources: environment variables (for paths), and the
`config.yaml` file inside each repository (for import behavior).
Command line flags override both.
*/
package config

import (
	"os"
	"path/filepath"

	"github.com/polydawn/banyan/fs"
)

/*
Return the path of the repository to operate on.

The default value is `"./repo"` (relative to the working directory);
this can be overriden by the `BANYAN_REPO` environment variable.
*/
func GetRepoPath() fs.AbsolutePath {
	pth := os.Getenv("BANYAN_REPO")
	if pth == "" {
		pth = "repo"
	}
	pth, err := filepath.Abs(pth)
	if err != nil {
		panic(err)
	}
	return fs.MustAbsolutePath(pth)
}
