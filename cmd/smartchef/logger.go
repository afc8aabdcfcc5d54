package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func logCommand(c *cli.Context) (err error) {
	s, err := newInstance(c, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if c.Bool("json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	dataChan := make(chan scale.DataPoint, 256)
	s.manager.SetDataChannel(dataChan)

	stateChan := make(chan scale.ConnectionStatus, 16)
	s.manager.SetStateChangeChannel(stateChan)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := s.manager.RequestConnect(ctx); err != nil && !scale.IsSilent(err) {
			log.Errorf("failed to connect scale: %s", err)
		}
	}()

	lockedOnly := c.Bool("locked-only")
	for {
		select {
		case dp := <-dataChan:
			if lockedOnly && !dp.Locked {
				continue
			}
			log.WithFields(logrus.Fields{
				"value":  dp.Value,
				"unit":   dp.Unit,
				"locked": dp.Locked,
			}).Info("reading")
		case st := <-stateChan:
			entry := log.WithField("state", st.State.String())
			if st.Error != nil {
				entry = entry.WithError(st.Error)
			}
			entry.Warn("state change")
		case <-ctx.Done():
			log.Infof("Got signal, terminating connection to device")
			return nil
		}
	}
}
