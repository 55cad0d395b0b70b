package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"chatbridge/internal/actions"
	"chatbridge/internal/apiclient"
	"chatbridge/internal/chatsession"
	"chatbridge/internal/constants"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/models"
	"chatbridge/internal/overlay"
	"chatbridge/pkg/stream"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version information (set at build time)
var Version = "dev"

type options struct {
	apiURL       string
	environment  string
	origin       string
	sessionToken string
	userID       string
	userName     string
	targetID     string
	profilePath  string
	streamURL    string
	streamKey    string
	verbose      bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "chatcli",
		Short: "Terminal chat client for chatbridge",
		Long: `Open a one-to-one chat with another user through a running chatbridge backend.

Examples:
  chatcli --user alice --target bob --session "$JWT"
  chatcli --user alice --target bob --env production --origin https://chat.example.com`,
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.apiURL, "api", os.Getenv("CHATCLI_API_URL"), "backend API base URL (development only)")
	f.StringVar(&opts.environment, "env", "development", "development or production")
	f.StringVar(&opts.origin, "origin", constants.DefaultClientURL, "client origin used for call links and the production API")
	f.StringVar(&opts.sessionToken, "session", os.Getenv("CHATCLI_SESSION"), "session cookie value issued at login")
	f.StringVarP(&opts.userID, "user", "u", "", "your user id")
	f.StringVar(&opts.userName, "name", "", "your display name")
	f.StringVarP(&opts.targetID, "target", "t", "", "user id to chat with")
	f.StringVar(&opts.profilePath, "profile", constants.DefaultProfileStorePath, "local profile database")
	f.StringVar(&opts.streamURL, "stream-url", constants.DefaultStreamBaseURL, "chat provider base URL")
	f.StringVar(&opts.streamKey, "stream-key", os.Getenv("STREAM_API_KEY"), "chat provider public API key")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func runChat(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	if opts.streamKey == "" {
		return fmt.Errorf("chat provider API key is required (--stream-key or STREAM_API_KEY)")
	}
	logger := newLogger(opts.verbose)

	store, err := kvstore.OpenSQLite(ctx, opts.profilePath, kvstore.Options{
		EncryptionSecret: os.Getenv(constants.ProfileSecretEnv),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open profile: %w", err)
	}
	defer store.Close()

	api, err := apiclient.New(apiclient.Config{
		BaseURL:      apiclient.ResolveBaseURL(opts.environment, opts.apiURL, opts.origin),
		SessionToken: opts.sessionToken,
	}, logger)
	if err != nil {
		return err
	}

	con := &console{out: out}
	boot := chatsession.NewBootstrapper(chatsession.Options{
		Tokens: api,
		NewClient: func() stream.UserClient {
			return stream.NewUserClient(opts.streamURL, opts.streamKey, nil, logger)
		},
		Notifier: con.notifier(),
		Logger:   logger,
	})
	defer boot.Close()

	unsubscribe := boot.Subscribe(func(s chatsession.Snapshot) {
		if s.State.Loading() {
			logger.WithField("state", s.State.String()).Debug("Connecting to chat")
		}
	})
	defer unsubscribe()

	con.printf("Connecting...\n")
	session, err := boot.Start(ctx, chatsession.Params{
		User:         models.Identity{ID: opts.userID, Name: opts.userName},
		TargetUserID: opts.targetID,
	})
	if err != nil {
		return err
	}
	con.printf("Chatting in %s, /help for commands\n", session.ChannelID)

	ov := overlay.New(store, logger)
	flow := actions.NewFlow(actions.Options{
		Sessions: boot,
		Overlay:  ov,
		Clearer:  api,
		Notifier: con.notifier(),
		Logger:   logger,
	})

	r := newREPL(session, flow, ov, con, opts.origin)
	stopFollowing := r.follow()
	defer stopFollowing()

	return r.run(ctx, in)
}
