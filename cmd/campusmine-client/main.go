package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	clientapp "github.com/campusmine/campusmine/client/app"
	"github.com/campusmine/campusmine/logger"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "server addr")
	student := flag.String("student", "student", "student id")
	institution := flag.String("institution", "demo", "institution id to mine for")
	transport := flag.String("transport", "ws", "transport: ws|tcp")
	start := flag.Bool("start", true, "start a session after connecting")
	flag.Parse()
	_ = logger.Init(logger.Settings{Format: "text", Level: "debug"})

	c := clientapp.NewClient(*student, *transport)
	if err := c.Connect(*addr); err != nil {
		logger.WithError(err).Fatal("connect failed")
	}
	if *start {
		if err := c.StartMining(*institution); err != nil {
			logger.WithError(err).Fatal("start failed")
		}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = c.StopMining(*institution)
		c.Close()
	}()
	_ = c.Run()
}
