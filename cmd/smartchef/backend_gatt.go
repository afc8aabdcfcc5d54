//go:build linux || darwin

package main

import (
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/fako1024/smartchef/pkg/transport/gattble"
)

func init() {
	backends[backendGatt] = func(logger scale.Logger) (*backend, error) {
		t, err := gattble.New(gattble.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{picker: t, transport: t, close: t.Close}, nil
	}
}
