package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/smartchef/pkg/api"
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/urfave/cli"
)

func serveCommand(c *cli.Context) (err error) {
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

	srv := api.New(s.manager, s.logger)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Listen(c.String("listen"))
	}()
	log.Infof("Serving API on %s", c.String("listen"))

	go func() {
		if err := s.manager.RequestConnect(ctx); err != nil && !scale.IsSilent(err) {
			log.Errorf("failed to connect scale: %s", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Infof("Got signal, shutting down")
	}

	return srv.Shutdown()
}
