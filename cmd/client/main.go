package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/AleksandrAfonin/console-chat/pkg/client"
	"github.com/AleksandrAfonin/console-chat/pkg/logging"
	"github.com/AleksandrAfonin/console-chat/pkg/version"
)

func main() {
	addr := flag.String("addr", "localhost:8189", "Chat server address")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: "text",
		Output: os.Stderr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	c := client.New(*addr, os.Stdin, os.Stdout)
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
