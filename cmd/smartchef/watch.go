package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/urfave/cli"
)

func watchCommand(c *cli.Context) (err error) {
	s, err := newInstance(c, newConsole(os.Stdout))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := s.manager.RequestConnect(ctx); err != nil && !scale.IsSilent(err) {
		return err
	}

	<-ctx.Done()
	log.Infof("Got signal, terminating connection to device (connected for %v)", s.manager.ConnectedFor())

	return nil
}
