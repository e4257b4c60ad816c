package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"backend-selfbell/internal/config"
	"backend-selfbell/internal/tokens"
	"backend-selfbell/internal/transport"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// app carries the client configuration shared by every subcommand.
type app struct {
	v *viper.Viper
}

type clientEnv struct {
	cfg   config.ClientConfig
	log   *slog.Logger
	store *tokens.FileStore
	api   *transport.Client
}

func (a *app) env(cmd *cobra.Command) *clientEnv {
	cfg := config.LoadClient(a.v)
	log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	store := tokens.NewFileStore(cfg.TokenFile)
	client := transport.New(cfg.APIURL, store, transport.WithLogger(log))
	store.WithRefresh(client.Refresh)
	return &clientEnv{cfg: cfg, log: log, store: store, api: client}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewClientViper()}

	cmd := &cobra.Command{
		Use:          "selfbell",
		Short:        "SelfBell safe-walk client",
		Long:         "Start a safe walk that shares your location with guardians, or watch one as a guardian.",
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("api-url", "", "safe-walk API base URL (default http://localhost:8080)")
	pf.String("realtime-url", "", "STOMP websocket endpoint (derived from --api-url when empty)")
	pf.String("token-file", "", "where credentials are stored")
	pf.String("log-level", "", "debug, info, warn or error")
	_ = a.v.BindPFlag("API_URL", pf.Lookup("api-url"))
	_ = a.v.BindPFlag("REALTIME_URL", pf.Lookup("realtime-url"))
	_ = a.v.BindPFlag("TOKEN_FILE", pf.Lookup("token-file"))
	_ = a.v.BindPFlag("LOG_LEVEL", pf.Lookup("log-level"))

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRegisterCmd(a))
	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newWalkCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newCurrentCmd(a))
	cmd.AddCommand(newDetailCmd(a))
	cmd.AddCommand(newTracksCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newGuardiansCmd(a))
	cmd.AddCommand(newNearbyCmd(a))
	cmd.AddCommand(newSOSCmd(a))
	cmd.AddCommand(newAlertsCmd(a))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "selfbell %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
