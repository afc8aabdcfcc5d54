package main

import (
	"fmt"
	"time"

	"github.com/fako1024/smartchef/pkg/mock"
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/fako1024/smartchef/pkg/transport/tinyble"
)

const (
	backendGatt   = "gatt"
	backendTinygo = "tinygo"
	backendMock   = "mock"
)

type backend struct {
	picker    scale.DevicePicker
	transport scale.Transport
	close     func() error
}

var backends = map[string]func(logger scale.Logger) (*backend, error){
	backendTinygo: func(logger scale.Logger) (*backend, error) {
		t, err := tinyble.New(tinyble.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{picker: t, transport: t, close: func() error { return nil }}, nil
	},
	backendMock: func(logger scale.Logger) (*backend, error) {
		m := mock.New(mock.WithConnectDelay(500*time.Millisecond), mock.WithLogger(logger))
		return &backend{picker: m, transport: m, close: func() error { return nil }}, nil
	},
}

func newBackend(name string, logger scale.Logger) (*backend, error) {
	fn, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend `%s`", name)
	}

	return fn(logger)
}
