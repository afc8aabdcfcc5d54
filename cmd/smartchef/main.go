package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var log = logrus.New()

func main() {
	app := cli.NewApp()
	app.Name = "smartchef"
	app.Usage = "read a Smart Chef / Chipsea bluetooth kitchen scale"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "backend, b",
			Value:  backendGatt,
			Usage:  "bluetooth backend (gatt, tinygo or mock)",
			EnvVar: "SMARTCHEF_BACKEND",
		},
		cli.BoolFlag{
			Name:   "debug, d",
			Usage:  "enable debug logging",
			EnvVar: "SMARTCHEF_DEBUG",
		},
		cli.BoolFlag{
			Name:   "no-floz",
			Usage:  "show volumes in millilitres instead of fluid ounces",
			EnvVar: "SMARTCHEF_NO_FLOZ",
		},
		cli.BoolFlag{
			Name:   "wakelock",
			Usage:  "keep the host awake while the scale is connected (systemd-logind)",
			EnvVar: "SMARTCHEF_WAKELOCK",
		},
		cli.IntFlag{
			Name:  "reconnect-attempts",
			Value: 1,
			Usage: "number of reconnect attempts after the link to the scale was lost",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "watch",
			Usage:  "connect to the scale and print readings",
			Action: watchCommand,
		},
		{
			Name:  "serve",
			Usage: "connect to the scale and serve its readings via a REST API",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "listen, l",
					Value:  ":8080",
					Usage:  "endpoint to listen on",
					EnvVar: "SMARTCHEF_LISTEN",
				},
			},
			Action: serveCommand,
		},
		{
			Name:  "log",
			Usage: "connect to the scale and log readings and state changes",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "json",
					Usage: "log in JSON format",
				},
				cli.BoolFlag{
					Name:  "locked-only",
					Usage: "only log locked (stable) readings",
				},
			},
			Action: logCommand,
		},
		{
			Name:      "decode",
			Usage:     "decode a hex encoded notification frame",
			ArgsUsage: "<hex frame> [<hex frame>...]",
			Action:    decodeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
