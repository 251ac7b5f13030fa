// Daemon reading telemetry from a Hargassner boiler controller and
// optionally republishing it over MQTT.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"

	"github.com/bauer-group/hargassner/log2"
	"github.com/bauer-group/hargassner/parser"
	"github.com/bauer-group/hargassner/state"
	"github.com/bauer-group/hargassner/tele"
	"github.com/bauer-group/hargassner/telnet"
)

var log = log2.NewStderr(log2.LDebug)

func main() {
	flagConfig := flag.String("config", "hargassner.hcl", "")
	flag.Parse()

	if sdnotify("start") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LServiceFlags)
	}
	log.Debugf("hello")

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if err := config.Validate(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	client, err := telnet.NewClient(config.ClientOptions(log))
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	client.RegisterConnFunc(func(connected bool) {
		log.Infof("boiler connected=%t", connected)
	})
	client.RegisterDataFunc(func(params parser.Params) {
		log.Debugf("boiler data=%v", params)
	})

	var bridge *tele.Tele
	if config.Tele.Enable {
		bridge, err = tele.New(log, config.Tele)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if err = bridge.Connect(); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		bridge.Attach(client)
	}

	if err = client.Start(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	sdnotify(daemon.SdNotifyReady)
	log.Infof("init complete, running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("signal=%v stopping", sig)

	client.Stop()
	if bridge != nil {
		bridge.Close()
	}
	stats := client.Stats()
	log.Infof("final stats=%+v", stats)
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
