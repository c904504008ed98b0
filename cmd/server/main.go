package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/AleksandrAfonin/console-chat/pkg/auth"
	"github.com/AleksandrAfonin/console-chat/pkg/datastore"
	"github.com/AleksandrAfonin/console-chat/pkg/logging"
	"github.com/AleksandrAfonin/console-chat/pkg/server"
	"github.com/AleksandrAfonin/console-chat/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP bind address for the chat protocol")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.UsersFile, "users-file", "", "YAML file with accounts to create on startup")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect members idle longer than this")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often to check for idle members")
	flag.BoolVar(&cfg.ForceCloseOnDisable, "force-close", false, "Close the transport of evicted members immediately")

	exportUsers := flag.Bool("export-users", false, "Export all users as YAML and exit")
	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := datastore.New(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// Handle export command (run and exit)
	if *exportUsers {
		data, err := server.ExportUsersYAML(st)
		if err != nil {
			slog.Error("export users", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	srv, err := server.New(cfg, server.Dependencies{Gateway: auth.NewDBProvider(st)})
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
