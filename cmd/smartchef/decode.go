package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fako1024/smartchef/pkg/format"
	"github.com/fako1024/smartchef/pkg/protocol"
	"github.com/urfave/cli"
)

func decodeCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no frame provided")
	}

	conv := converter(c)
	out := newConsole(os.Stdout)

	var failed int
	for _, arg := range c.Args() {
		reading, err := decodeHex(arg)
		if err != nil {
			out.ShowError(fmt.Errorf("%s: %w", arg, err))
			failed++
			continue
		}
		value, unit := conv.Display(reading)
		out.ShowReading(value, unit, reading.Locked)
	}

	if failed > 0 {
		return cli.NewExitError("", 1)
	}
	return nil
}

// decodeHex decodes a frame given as hex string, allowing for separators
// (e.g. "CA 10 00 00 00 01 90 81" or "ca:10:00:00:00:01:90:81")
func decodeHex(s string) (protocol.Reading, error) {
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimPrefix(strings.ToLower(s), "0x"))
	frame, err := hex.DecodeString(s)
	if err != nil {
		return protocol.Reading{}, fmt.Errorf("invalid hex frame: %w", err)
	}

	return protocol.Decode(frame)
}

func converter(c *cli.Context) format.Converter {
	return format.Converter{FluidOunces: !c.GlobalBool("no-floz")}
}
