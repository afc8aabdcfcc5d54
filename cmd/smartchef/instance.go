package main

import (
	"fmt"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/fako1024/smartchef/pkg/smartchef"
	"github.com/fako1024/smartchef/pkg/wakelock"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// instance bundles a scale connection with the backend it runs on
type instance struct {
	manager *smartchef.Manager
	backend *backend
	logger  scale.Logger
}

func newInstance(c *cli.Context, display scale.Display) (*instance, error) {
	debug := c.GlobalBool("debug")
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	logger := scale.NewDefaultLogger(debug)

	b, err := newBackend(c.GlobalString("backend"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bluetooth backend: %w", err)
	}

	var lock scale.WakeLock = wakelock.Nop{}
	if c.GlobalBool("wakelock") {
		l, err := wakelock.NewLogind()
		if err != nil {
			log.Warnf("wake lock unavailable, continuing without: %s", err)
		} else {
			lock = l
		}
	}

	mgr, err := smartchef.New(
		smartchef.WithPicker(b.picker),
		smartchef.WithTransport(b.transport),
		smartchef.WithDisplay(display),
		smartchef.WithWakeLock(lock),
		smartchef.WithLogger(logger),
		smartchef.WithConverter(converter(c)),
		smartchef.WithReconnectAttempts(c.GlobalInt("reconnect-attempts")),
	)
	if err != nil {
		_ = b.close()
		return nil, fmt.Errorf("failed to initialize scale connection: %w", err)
	}

	return &instance{
		manager: mgr,
		backend: b,
		logger:  logger,
	}, nil
}

func (s *instance) Close() error {
	if err := s.manager.Close(); err != nil {
		return err
	}
	return s.backend.close()
}
