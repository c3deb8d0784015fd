/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command tesd is the TES readout electronics acquisition server:
// it reads frames off a kernel-bypass ring, fans them out to a fixed
// set of tasks (capture-to-file, MCA histograms, average traces,
// jitter histograms, coincidence detection and counting, and a status
// endpoint), and serves Prometheus metrics for the lot. Grounded on
// tesd.c's main(): parse options, daemonize unless told not to, open
// the interface, register every task, and run until signaled.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesdaq/tesd/capture"
	"github.com/tesdaq/tesd/config"
	"github.com/tesdaq/tesd/coordinator"
	"github.com/tesdaq/tesd/daemonize"
	"github.com/tesdaq/tesd/hdf5conv"
	"github.com/tesdaq/tesd/metrics"
	"github.com/tesdaq/tesd/ring"
	"github.com/tesdaq/tesd/tasks/avgtrace"
	"github.com/tesdaq/tesd/tasks/coinc"
	"github.com/tesdaq/tesd/tasks/coinccount"
	"github.com/tesdaq/tesd/tasks/info"
	"github.com/tesdaq/tesd/tasks/jitter"
	"github.com/tesdaq/tesd/tasks/mca"
	"github.com/tesdaq/tesd/tasksup"
	"github.com/tesdaq/tesd/tesdlog"
	"github.com/tesdaq/tesd/wire"
)

func main() {
	flags, err := config.ParseFlags("tesd", os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := flags.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if !flags.Foreground {
		// Parent invocation never returns from here: Daemonize calls
		// os.Exit once the re-exec'd child signals readiness (or
		// times out). Only the child reaches the line after this call.
		if _, err := daemonize.Daemonize(daemonize.Options{
			PIDFile: flags.PIDFile,
			Timeout: config.DefaultInitTimeout,
		}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	log := tesdlog.New(flags.Verbose, flags.Foreground)
	if !flags.Foreground {
		if err := tesdlog.AttachSyslog(log, "tesd"); err != nil {
			daemonize.Notify(err)
			os.Exit(1)
		}
	}

	srv, err := bringUp(flags, log)
	daemonize.Notify(err)
	if err != nil {
		log.WithError(err).Error("initialization failed")
		os.Exit(1)
	}

	log.Info("tesd up")
	srv.waitForShutdown()
}

// server holds every long-lived component bringUp assembles, so
// waitForShutdown can tear them down in a sensible order.
type server struct {
	log *logrus.Entry

	sup     *tasksup.Supervisor
	coord   *coordinator.Coordinator
	backend ring.Backend

	captureSrv    *capture.Server
	avgtraceSrv   *avgtrace.Server
	infoSrv       *info.Server
	jitterSrv     *jitter.Server
	coincSrv      *coinc.Server
	coinccountSrv *coinccount.Server

	diagSrv *http.Server

	coordStop  chan struct{}
	pidFile    string
	statPeriod time.Duration
}

func bringUp(flags *config.Flags, root *logrus.Logger) (*server, error) {
	log := tesdlog.For(root, "main")

	taskCfg, err := config.LoadTasks(flags.ConfDir)
	if err != nil {
		return nil, fmt.Errorf("tesd: load task config: %w", err)
	}

	reg := metrics.New("tesd")

	backend, fd, err := setupRingBackend(flags, taskCfg.Ring)
	if err != nil {
		return nil, err
	}
	mgr := ring.NewManager(backend)

	sup := tasksup.NewSupervisor(mgr, tesdlog.For(root, "tasksup"))
	sup.SetMetrics(reg.TaskSink())

	pool := hdf5conv.NewPool("capture", hdf5conv.NewStaticConverter(hdf5conv.StatusOK, nil, 0))
	captureJob := capture.New(taskCfg.Capture, pool, tesdlog.For(root, "capture"))
	captureJob.SetActivator(func() error { return sup.Activate("capture") })
	captureSrv, err := capture.Listen(captureJob, tesdlog.For(root, "capture"))
	if err != nil {
		return nil, fmt.Errorf("tesd: capture: %w", err)
	}
	captureSrv.SetReplyObserver(reg.CaptureReplyObserver())

	avgtraceTask := avgtrace.New(tesdlog.For(root, "avgtrace"))
	avgtraceTask.SetActivator(func() error { return sup.Activate("avgtrace") })
	avgtraceSrv, err := avgtrace.Listen(avgtraceTask, tesdlog.For(root, "avgtrace"))
	if err != nil {
		return nil, fmt.Errorf("tesd: avgtrace: %w", err)
	}

	infoTask := info.New(tesdlog.For(root, "info"))
	infoTask.SetActivator(
		func() error { return sup.Activate("info") },
		func() error { return sup.Deactivate("info") },
	)
	infoSrv, err := info.Listen(infoTask, tesdlog.For(root, "info"))
	if err != nil {
		return nil, fmt.Errorf("tesd: info: %w", err)
	}

	jitterTask, err := jitter.New(tesdlog.For(root, "jitter"))
	if err != nil {
		return nil, fmt.Errorf("tesd: jitter: %w", err)
	}
	jitterTask.SetActivator(
		func() error { return sup.Activate("jitter") },
		func() error { return sup.Deactivate("jitter") },
	)
	jitterTask.HandleConfigRequest(wire.JitterConfigRequest{
		RefChannel: taskCfg.Jitter.RefChannel,
		Ticks:      uint64(taskCfg.Jitter.Ticks),
	})
	jitterSrv, err := jitter.Listen(jitterTask, tesdlog.For(root, "jitter"))
	if err != nil {
		return nil, fmt.Errorf("tesd: jitter: %w", err)
	}

	coincCountTask := coinccount.New(tesdlog.For(root, "coinccount"))
	coincCountTask.HandleRequest(wire.CoincCountRequest{ResetWindow: taskCfg.CoincCount.Window})
	coinccountSrv, err := coinccount.Listen(coincCountTask, tesdlog.For(root, "coinccount"))
	if err != nil {
		return nil, fmt.Errorf("tesd: coinccount: %w", err)
	}

	coincTask, err := coinc.New(tesdlog.For(root, "coinc"))
	if err != nil {
		return nil, fmt.Errorf("tesd: coinc: %w", err)
	}
	coincTask.SetVectorSink(coincCountTask.OnVector)
	coincTask.HandleConfigRequest(wire.CoincConfigRequest{
		WindowTicks: taskCfg.Coinc.WindowTicks,
		ChannelMask: taskCfg.Coinc.ChannelMask,
	})
	coincSrv, err := coinc.Listen(coincTask, tesdlog.For(root, "coinc"))
	if err != nil {
		return nil, fmt.Errorf("tesd: coinc: %w", err)
	}

	mcaTask, err := mca.New(taskCfg.Capture.MCASizeMode, tesdlog.For(root, "mca"))
	if err != nil {
		return nil, fmt.Errorf("tesd: mca: %w", err)
	}
	mcaTask.SetActivator(
		func() error { return sup.Activate("mca") },
		func() error { return sup.Deactivate("mca") },
	)

	tasks := []tasksup.Task{captureJob, avgtraceTask, infoTask, jitterTask, coincTask, mcaTask}
	if err := sup.Start(tasks); err != nil {
		return nil, fmt.Errorf("tesd: start supervisor: %w", err)
	}

	coord := coordinator.New(fd, mgr, sup, tesdlog.For(root, "coordinator"))
	coordStop := make(chan struct{})
	go func() {
		if err := coord.Run(coordStop); err != nil {
			log.WithError(err).Error("coordinator stopped")
		}
	}()

	go captureSrv.Serve()
	go avgtraceSrv.Serve()
	go infoSrv.Serve()
	go jitterSrv.Serve()
	go coincSrv.Serve()
	go coinccountSrv.Serve()

	var diagSrv *http.Server
	if flags.DiagAddr != "" {
		ln, err := net.Listen("tcp", flags.DiagAddr)
		if err != nil {
			return nil, fmt.Errorf("tesd: diagnostics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		diagSrv = &http.Server{Handler: mux}
		go func() {
			if err := diagSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("diagnostics server stopped")
			}
		}()
	}

	// Drop privileges last, once every listener and the ring are open.
	if flags.GID > 0 {
		if err := syscall.Setgid(flags.GID); err != nil {
			return nil, fmt.Errorf("tesd: setgid %d: %w", flags.GID, err)
		}
	}
	if flags.UID > 0 {
		if err := syscall.Setuid(flags.UID); err != nil {
			return nil, fmt.Errorf("tesd: setuid %d: %w", flags.UID, err)
		}
	}

	return &server{
		log:           log,
		sup:           sup,
		coord:         coord,
		backend:       backend,
		captureSrv:    captureSrv,
		avgtraceSrv:   avgtraceSrv,
		infoSrv:       infoSrv,
		jitterSrv:     jitterSrv,
		coincSrv:      coincSrv,
		coinccountSrv: coinccountSrv,
		diagSrv:       diagSrv,
		coordStop:     coordStop,
		pidFile:       flags.PIDFile,
		statPeriod:    flags.StatPeriod,
	}, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, optionally logging
// periodic statistics meanwhile, then tears everything down in the
// reverse order it was brought up.
func (s *server) waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var statTick <-chan time.Time
	if s.statPeriod > 0 {
		t := time.NewTicker(s.statPeriod)
		defer t.Stop()
		statTick = t.C
	}

	for {
		select {
		case <-sig:
			s.shutdown()
			return
		case <-statTick:
			s.coord.LogStats()
		}
	}
}

func (s *server) shutdown() {
	s.log.Info("shutting down")
	close(s.coordStop)
	if s.diagSrv != nil {
		s.diagSrv.Close()
	}
	s.captureSrv.Close()
	s.avgtraceSrv.Close()
	s.infoSrv.Close()
	s.jitterSrv.Close()
	s.coincSrv.Close()
	s.coinccountSrv.Close()
	s.sup.Stop()
	s.backend.Close()
	if s.pidFile != "" {
		os.Remove(s.pidFile)
	}
}
