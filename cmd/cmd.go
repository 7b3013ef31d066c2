/*
   minihpl - Distributed dense linear system solver
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/bugsnag/bugsnag-go"
	"github.com/getsentry/raven-go"
	log "github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"

	"minihpl/node"
)

var reporters []func(err error, status int)

// ConfigureErrors enables reporting of fatal errors to the services named
// in conf.
func ConfigureErrors(conf node.ErrorsConfig, rank int) {
	reporters = nil
	tags := map[string]string{"rank": strconv.Itoa(rank)}
	if conf.SentryDSN != "" {
		if err := raven.SetDSN(conf.SentryDSN); err != nil {
			log.Warningf("invalid sentry DSN: %v", err)
		} else {
			reporters = append(reporters, func(err error, status int) {
				t := map[string]string{"status": strconv.Itoa(status)}
				for k, v := range tags {
					t[k] = v
				}
				raven.CaptureErrorAndWait(err, t)
			})
		}
	}
	if conf.BugsnagAPIKey != "" {
		bugsnag.Configure(bugsnag.Configuration{
			APIKey:      conf.BugsnagAPIKey,
			Synchronous: true,
		})
		reporters = append(reporters, func(err error, status int) {
			bugsnag.Notify(err, bugsnag.MetaData{
				"hpl": {"rank": rank, "status": status},
			})
		})
	}
}

// Die exits with the status node.ExitCode assigns to the cause of err,
// reporting failures first.
func Die(err error) {
	if err != nil {
		status := node.ExitCode(errgo.Cause(err))
		for _, report := range reporters {
			report(err, status)
		}
		fmt.Fprintln(os.Stderr, errgo.Details(err))
		os.Exit(status)
	}
	os.Exit(0)
}

func StartCPUProf(cpuProf bool, prior *os.File) *os.File {
	if prior != nil {
		pprof.StopCPUProfile()
		log.Infof("CPU profile written to %q", prior.Name())
		prior.Close()
		os.Rename(filepath.Join(os.TempDir(), "hpl-cpu.prof.part"),
			filepath.Join(os.TempDir(), "hpl-cpu.prof"))
	}
	if cpuProf {
		profName := filepath.Join(os.TempDir(), "hpl-cpu.prof.part")
		f, err := os.Create(profName)
		if err != nil {
			Die(errgo.Mask(err))
		}
		pprof.StartCPUProfile(f)
		return f
	}
	return nil
}

func WriteMemProf(memProf bool) {
	if !memProf {
		return
	}
	tmpName := filepath.Join(os.TempDir(), fmt.Sprintf("hpl-mem.prof.%d", time.Now().Unix()))
	profName := filepath.Join(os.TempDir(), "hpl-mem.prof")
	f, err := os.Create(tmpName)
	if err != nil {
		log.Warningf("failed to create heap profile: %v", err)
		return
	}
	err = pprof.WriteHeapProfile(f)
	f.Close()
	if err != nil {
		log.Warningf("failed to write heap profile: %v", err)
		return
	}
	log.Infof("Heap profile written to %q", profName)
	os.Rename(tmpName, profName)
}
