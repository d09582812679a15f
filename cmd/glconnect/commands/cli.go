package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/mscno/glconnect/pkg/config"
)

type cliCtx struct {
	Debug bool
	context.Context
	Logger *slog.Logger
	Out    io.Writer
	env    *env
}

type cli struct {
	Debug     bool   `help:"Enable debug logging" env:"GLCONNECT_DEBUG"`
	GitLabURL string `name:"gitlab-url" help:"GitLab API base URL used with the session token (default GITLAB_BASE_URL)."`
	ServerURL string `name:"server-url" env:"GLCONNECT_SERVER_URL" help:"Relay GitLab calls through a glconnect server."`

	Connect    ConnectCmd    `cmd:"" help:"Validate and save a GitLab personal access token."`
	Disconnect DisconnectCmd `cmd:"" help:"Forget the saved token and the imported projects."`
	Whoami     WhoamiCmd     `cmd:"" help:"Show the connected GitLab user."`
	Projects   ProjectsCmd   `cmd:"" help:"List and import projects you are a member of."`
	Imported   ImportedCmd   `cmd:"" help:"Manage the imported projects."`
	Orgs       OrgsCmd       `cmd:"" help:"Manage connected organizations."`
	Repos      ReposCmd      `cmd:"" help:"Manage repositories of the active organization."`
	View       ViewCmd       `cmd:"" help:"Show the current screen of the connect flow."`
	Issues     IssuesCmd     `cmd:"" help:"Work with project issues."`
	MRs        MRsCmd        `cmd:"" name:"mrs" help:"List project merge requests."`
	Commits    CommitsCmd    `cmd:"" help:"Inspect project commits."`
	Tree       TreeCmd       `cmd:"" help:"List the files of a project repository."`
	Pipelines  PipelinesCmd  `cmd:"" help:"Inspect project pipelines."`
	Groups     GroupsCmd     `cmd:"" help:"List groups and their projects."`
	API        APICmd        `cmd:"" name:"api" help:"Call any GitLab REST endpoint."`

	Version kong.VersionFlag `help:"Show version"`
}

func Execute(version string) {
	var cli cli
	kctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.Name("glconnect"),
		kong.Description("glconnect connects GitLab accounts and imports projects"),
		kong.Vars{"version": version},
	)

	logger := newLogger(os.Stderr, cli.Debug)
	cfg, err := config.Load()
	kctx.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	e := &env{
		cfg:       cfg,
		logger:    logger,
		gitlabURL: cli.GitLabURL,
		serverURL: cli.ServerURL,
	}
	defer e.Close()

	err = kctx.Run(&cliCtx{
		Debug:   cli.Debug,
		Context: ctx,
		Logger:  logger,
		Out:     os.Stdout,
		env:     e,
	})
	kctx.FatalIfErrorf(err)
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
