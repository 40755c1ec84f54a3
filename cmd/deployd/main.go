package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/danmuck/deployctl/internal/agent"
	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/logging"
)

func main() {
	configPath := flag.StringP("config", "c", "/etc/deployctl/deployctl.toml", "path to deployctl.toml")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deployd: %v\n", err)
		os.Exit(1)
	}

	svc := agent.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "deployd: %v\n", err)
		os.Exit(1)
	}
}
