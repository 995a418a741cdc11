package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/config"
	"github.com/polydawn/banyan/repo"
)

/*
Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

type baseCLI struct {
	Repo      string        // Repository path
	Format    string        // Output api format, eg. json
	Verbose   bool          // Debug logging to stderr
	Timeout   time.Duration // Timeout for the whole command, eg. "60s"
	Deadline  string        // Deadline time (RFC3339 or @UNIX); exclusive with timeout
	ImportCLI struct {
		Path        string
		Workers     int
		QueueDepth  int
		OnScanError string
		SameDevice  bool
		DryRun      bool
		Filters     config.Filters
	}
	RestoreCLI struct {
		Layer string // Layer reference: HEAD, an ID, or an ID prefix
		Path  string // Restore target path
	}
	LogCLI struct {
		Layer string
	}
}

func configureImport(cli *baseCLI, appImport *kingpin.CmdClause) {
	appImport.Arg("path", "Directory to snapshot").
		Required().
		StringVar(&cli.ImportCLI.Path)
	appImport.Flag("workers", "Traversal workers (default from config, else one per CPU)").
		IntVar(&cli.ImportCLI.Workers)
	appImport.Flag("queue-depth", "Bound on queued traversal tasks").
		IntVar(&cli.ImportCLI.QueueDepth)
	appImport.Flag("on-scan-error", "What to do about unreadable directories [abort, skip]").
		EnumVar(&cli.ImportCLI.OnScanError,
			config.OnScanError_Abort, config.OnScanError_Skip)
	appImport.Flag("same-device", "Don't descend into other filesystems").
		BoolVar(&cli.ImportCLI.SameDevice)
	appImport.Flag("dry-run", "Compute the layer, but write nothing").
		BoolVar(&cli.ImportCLI.DryRun)

	// Filter flags
	appImport.Flag("uid", "Set UID filter [keep, <int>]").
		StringVar(&cli.ImportCLI.Filters.Uid)
	appImport.Flag("gid", "Set GID filter [keep, <int>]").
		StringVar(&cli.ImportCLI.Filters.Gid)
	appImport.Flag("mtime", "Set mtime filter [keep, <@UNIX>, <RFC3339>]").
		StringVar(&cli.ImportCLI.Filters.Mtime)
	appImport.Flag("sticky", "Keep setuid, setgid, and sticky bits [keep, zero]").
		EnumVar(&cli.ImportCLI.Filters.Sticky,
			"keep", "zero")
}

func configureRestore(cli *baseCLI, appRestore *kingpin.CmdClause) {
	appRestore.Arg("layer", "Layer to restore [HEAD, <id>, <id prefix>]").
		Required().
		StringVar(&cli.RestoreCLI.Layer)
	appRestore.Arg("path", "Target path (must be missing or empty)").
		Required().
		StringVar(&cli.RestoreCLI.Path)
}

/*
Blocks until a sigint is received, then calls cancel.
*/
func CancelOnInterrupt(ctx context.Context, cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer signal.Stop(signalChan)
	select {
	case <-signalChan:
		cancel()
	case <-ctx.Done():
	}
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) api.ExitCode {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go CancelOnInterrupt(ctx, cancel)

	cli := baseCLI{}

	app := kingpin.New("banyan", "Layered, content-addressed snapshots of directory trees")
	app.HelpFlag.Short('h')

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	app.Flag("repo", "Repository path (default $BANYAN_REPO, else ./repo)").
		Default(config.GetRepoPath().String()).
		StringVar(&cli.Repo)
	app.Flag("format", "Output api format").
		Default(FmtDumb).
		EnumVar(&cli.Format, FmtJson, FmtDumb)
	app.Flag("verbose", "Log debug detail to stderr").
		Short('v').
		BoolVar(&cli.Verbose)
	app.Flag("timeout", "Timeout for command").
		DurationVar(&cli.Timeout)
	app.Flag("deadline", "Deadline (RFC3339 or @UNIX)").
		StringVar(&cli.Deadline)

	appInit := app.Command("init", "create a new, empty repository")

	appImport := app.Command("import", "snapshot a directory as a new layer on top of HEAD")
	configureImport(&cli, appImport)

	appRestore := app.Command("restore", "materialize a layer's tree into a directory")
	configureRestore(&cli, appRestore)

	appLog := app.Command("log", "list the chain of layers, newest first")
	appLog.Arg("layer", "Layer to start from").
		Default("HEAD").
		StringVar(&cli.LogCLI.Layer)

	appVerify := app.Command("verify", "check every object reachable from HEAD")

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d", status)
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return api.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return api.ExitUsage
	}

	log := logrus.New()
	log.Out = stderr
	log.Level = logrus.WarnLevel
	if cli.Verbose {
		log.Level = logrus.DebugLevel
	}

	ctx, cancelDeadline, err := applyDeadline(ctx, cli)
	defer cancelDeadline()
	if err != nil {
		return emit(cli.Format, nil, err, stdout, stderr)
	}

	var res *Result
	switch cmd {
	case appInit.FullCommand():
		res, err = executeInit(cli, log)
	case appImport.FullCommand():
		res, err = executeImport(ctx, cli, log)
	case appRestore.FullCommand():
		res, err = executeRestore(ctx, cli, log)
	case appLog.FullCommand():
		res, err = executeLog(cli, log)
	case appVerify.FullCommand():
		res, err = executeVerify(ctx, cli, log)
	}
	return emit(cli.Format, res, err, stdout, stderr)
}

func applyDeadline(ctx context.Context, cli baseCLI) (context.Context, context.CancelFunc, error) {
	switch {
	case cli.Timeout != 0 && cli.Deadline != "":
		return ctx, func() {}, Errorf(api.ErrUsage, "--timeout and --deadline are exclusive")
	case cli.Timeout != 0:
		ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
		return ctx, cancel, nil
	case cli.Deadline != "":
		when, err := parseDeadline(cli.Deadline)
		if err != nil {
			return ctx, func() {}, err
		}
		ctx, cancel := context.WithDeadline(ctx, when)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func parseDeadline(s string) (time.Time, error) {
	if len(s) > 1 && s[0] == '@' {
		var unix int64
		if _, err := fmt.Sscanf(s[1:], "%d", &unix); err != nil {
			return time.Time{}, Errorf(api.ErrUsage, "invalid deadline %q", s)
		}
		return time.Unix(unix, 0), nil
	}
	when, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, Errorf(api.ErrUsage, "invalid deadline %q: %s", s, err)
	}
	return when, nil
}

func executeInit(cli baseCLI, log logrus.FieldLogger) (*Result, error) {
	r, err := repo.Init(cli.Repo, repo.InitOptions{}, log)
	if err != nil {
		return nil, err
	}
	return &Result{Repo: r.Path().String()}, nil
}

func executeImport(ctx context.Context, cli baseCLI, log logrus.FieldLogger) (*Result, error) {
	r, err := repo.Open(cli.Repo, log)
	if err != nil {
		return nil, err
	}
	cfg := r.Config()
	ic := cli.ImportCLI
	if ic.Workers != 0 {
		cfg.Workers = ic.Workers
	}
	if ic.QueueDepth != 0 {
		cfg.QueueDepth = ic.QueueDepth
	}
	if ic.OnScanError != "" {
		cfg.OnScanError = ic.OnScanError
	}
	if ic.SameDevice {
		cfg.SameDevice = true
	}
	if ic.Filters.Uid != "" {
		cfg.Filters.Uid = ic.Filters.Uid
	}
	if ic.Filters.Gid != "" {
		cfg.Filters.Gid = ic.Filters.Gid
	}
	if ic.Filters.Mtime != "" {
		cfg.Filters.Mtime = ic.Filters.Mtime
	}
	if ic.Filters.Sticky != "" {
		cfg.Filters.Sticky = ic.Filters.Sticky
	}
	ir, err := r.Import(ctx, ic.Path, repo.ImportOptions{Config: &cfg, DryRun: ic.DryRun})
	if err != nil {
		return nil, err
	}
	return importResult(ir), nil
}

func executeRestore(ctx context.Context, cli baseCLI, log logrus.FieldLogger) (*Result, error) {
	r, err := repo.Open(cli.Repo, log)
	if err != nil {
		return nil, err
	}
	id, err := r.Resolve(cli.RestoreCLI.Layer)
	if err != nil {
		return nil, err
	}
	rr, err := r.Restore(ctx, id, cli.RestoreCLI.Path)
	if err != nil {
		return nil, err
	}
	return restoreResult(rr), nil
}

func executeLog(cli baseCLI, log logrus.FieldLogger) (*Result, error) {
	r, err := repo.Open(cli.Repo, log)
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	if head == nil && cli.LogCLI.Layer == "HEAD" {
		return &Result{Log: []LogLine{}}, nil
	}
	id, err := r.Resolve(cli.LogCLI.Layer)
	if err != nil {
		return nil, err
	}
	entries, err := r.Log(id)
	if err != nil {
		return nil, err
	}
	return logResult(entries), nil
}

func executeVerify(ctx context.Context, cli baseCLI, log logrus.FieldLogger) (*Result, error) {
	r, err := repo.Open(cli.Repo, log)
	if err != nil {
		return nil, err
	}
	report, err := r.Verify(ctx)
	if err != nil {
		return nil, err
	}
	res := verifyResult(report)
	if !report.OK() {
		return res, Errorf(api.ErrCorruptData, "verify found %d problems", len(report.Problems))
	}
	return res, nil
}
