package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"

	"minihpl/cmd"
	"minihpl/hpl"
	"minihpl/node"
)

var (
	configFile = flag.String("config", "", "config file")
	rank       = flag.Int("rank", 0, "rank of this process in [hpl.group] addrs")
	n          = flag.Int("n", 0, "matrix dimension N")
	nb         = flag.Int("nb", hpl.DefaultNB, "row block size NB")
	local      = flag.Int("local", 0, "run P ranks inside this process")
	serve      = flag.Bool("serve", false, "keep serving the monitor after the run")
	cpuProf    = flag.Bool("cpuprof", false, "enable CPU profiling")
	memProf    = flag.Bool("memprof", false, "enable mem profiling")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -n N [-nb NB] [-local P | -config FILE -rank R]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func loadSettings() (*node.Settings, error) {
	var settings *node.Settings
	if *configFile != "" {
		conf, err := ioutil.ReadFile(*configFile)
		if err != nil {
			return nil, errgo.WithCausef(err, node.ErrInvalidSettings, "cannot read %q", *configFile)
		}
		settings, err = node.ParseSettings(string(conf))
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
	} else {
		defaults := node.DefaultSettings()
		settings = &defaults
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			settings.N = *n
		case "nb":
			settings.NB = *nb
		}
	})
	return settings, nil
}

func main() {
	flag.Usage = usage
	flag.Parse()

	settings, err := loadSettings()
	if err != nil {
		cmd.Die(err)
	}
	if settings.N == 0 {
		if *rank == 0 {
			usage()
		}
		os.Exit(0)
	}
	cmd.ConfigureErrors(settings.Errors, *rank)

	srv, err := node.NewNode(settings)
	if err != nil {
		cmd.Die(errgo.Mask(err, errgo.Any))
	}
	srv.Start()

	cpuFile := cmd.StartCPUProf(*cpuProf, nil)

	done := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for {
			select {
			case sig := <-c:
				switch sig {
				case syscall.SIGINT, syscall.SIGTERM:
					close(done)
					return
				case syscall.SIGUSR1:
					srv.LogRotate()
				case syscall.SIGUSR2:
					cpuFile = cmd.StartCPUProf(*cpuProf, cpuFile)
					cmd.WriteMemProf(*memProf)
				}
			}
		}
	}()

	var report *hpl.Report
	if *local > 0 {
		report, err = srv.RunLocal(*local)
	} else {
		report, err = srv.Run(*rank)
	}
	cmd.StartCPUProf(false, cpuFile)
	cmd.WriteMemProf(*memProf)
	if err != nil {
		srv.Stop()
		cmd.Die(err)
	}

	if report != nil {
		if _, err := report.WriteTo(os.Stdout); err != nil {
			log.Warningf("failed to write report: %v", err)
		}
	}
	if *serve && srv.Monitor() != nil {
		log.Infof("serving monitor on %s until interrupted", srv.Monitor().Addr())
		<-done
	}
	srv.Stop()
	cmd.Die(nil)
}
