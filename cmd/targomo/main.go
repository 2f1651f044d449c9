package main

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
	apexcli "github.com/apex/log/handlers/cli"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	log.SetHandler(apexcli.New(os.Stderr))
	log.SetLevel(log.InfoLevel)

	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
