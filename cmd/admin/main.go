package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/turbocore/internal/admincli"
	"github.com/dmitrijs2005/turbocore/internal/server"
	"github.com/dmitrijs2005/turbocore/internal/server/config"
)

func main() {

	ctx := context.Background()

	if len(os.Args) < 2 || os.Args[1] != "create" {
		fmt.Fprintln(os.Stderr, admincli.ErrUsage)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	tio := admincli.IO{
		In:      bufio.NewReader(os.Stdin),
		Out:     os.Stdout,
		StdinFd: int(os.Stdin.Fd()),
	}
	if err := admincli.Run(ctx, os.Args[1:], app.Users(), tio); err != nil {
		app.Close()
		log.Fatalf("%v", err)
	}

}
