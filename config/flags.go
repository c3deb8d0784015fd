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

// Package config parses the server's command-line surface and its
// per-task configuration directory. Grounded on tesd.c's option
// string "c:p:i:U:u:g:fvh" and the defaults it falls back to.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Defaults, matching tesd.c's PIDFILE/CONFDIR/TES_IFNAME/UPDATE_INTERVAL
// macros with the binary's own name in place of PROGNAME.
const (
	DefaultPIDFile = "/var/run/tesd.pid"
	DefaultConfDir = "/var/lib/tesd/config/"
	DefaultIfName  = "netmap:tes0"
	// DefaultStatPeriod is only applied when running in the foreground
	// with no -U given, mirroring tesd.c's "be_daemon == false" branch.
	DefaultStatPeriod = 1 * time.Second
	// DefaultInitTimeout mirrors tesd.c's INIT_TOUT, the time the
	// foreground invocation waits for the daemonized child to report
	// readiness.
	DefaultInitTimeout = 5 * time.Second
	// DefaultDiagAddr is where the Prometheus /metrics endpoint listens;
	// the original has no equivalent flag since it predates this
	// server's metrics package.
	DefaultDiagAddr = ":9100"
)

// Flags holds the parsed command-line options.
type Flags struct {
	// ConfDir is the task-configuration directory (-c), always
	// normalized to end in a slash.
	ConfDir string
	// PIDFile is where the daemon's PID is recorded (-p); empty
	// disables the pidfile.
	PIDFile string
	// IfName is the network interface to read frames from (-i).
	IfName string
	// Foreground keeps the process attached to its terminal (-f)
	// instead of daemonizing.
	Foreground bool
	// StatPeriod is how often periodic statistics are logged (-U); 0
	// disables periodic logging.
	StatPeriod time.Duration
	// UID, if non-zero, is the user ID to drop privileges to after
	// binding the capture interface (-u).
	UID int
	// GID, if non-zero, is the group ID to drop privileges to (-g).
	GID int
	// Verbose enables debug-level logging (-v).
	Verbose bool
	// DiagAddr is the address the Prometheus /metrics endpoint listens
	// on (-m); empty disables it.
	DiagAddr string
}

// ParseFlags parses args (excluding the program name, i.e. os.Args[1:])
// against the option surface described above. name is used as the
// flag set's name for usage output.
func ParseFlags(name string, args []string) (*Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	f := &Flags{
		ConfDir:    DefaultConfDir,
		PIDFile:    DefaultPIDFile,
		IfName:     DefaultIfName,
		StatPeriod: -1, // sentinel: "-U not given"
		DiagAddr:   DefaultDiagAddr,
	}

	fs.StringVar(&f.ConfDir, "c", DefaultConfDir, "task configuration directory")
	fs.StringVar(&f.PIDFile, "p", DefaultPIDFile, "pidfile path; set to \"\" to disable")
	fs.StringVar(&f.IfName, "i", DefaultIfName, "interface to read packets from")
	fs.BoolVar(&f.Foreground, "f", false, "run in the foreground instead of daemonizing")
	statSeconds := fs.Int("U", -1, "print statistics every N seconds (0 disables)")
	fs.IntVar(&f.UID, "u", 0, "if > 0, setuid to this user ID after startup")
	fs.IntVar(&f.GID, "g", 0, "if > 0, setgid to this group ID after startup")
	fs.BoolVar(&f.Verbose, "v", false, "print debugging messages")
	fs.StringVar(&f.DiagAddr, "m", DefaultDiagAddr, "address to serve Prometheus metrics on; \"\" disables it")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.ConfDir[len(f.ConfDir)-1] != '/' {
		f.ConfDir += "/"
	}

	if *statSeconds < 0 {
		if f.Foreground {
			f.StatPeriod = DefaultStatPeriod
		} else {
			f.StatPeriod = 0
		}
	} else {
		f.StatPeriod = time.Duration(*statSeconds) * time.Second
	}

	return f, nil
}

// Validate reports the same argument errors tesd.c's getopt loop
// would catch via strtol's leftover-buffer check.
func (f *Flags) Validate() error {
	if f.UID < 0 {
		return fmt.Errorf("config: uid must not be negative")
	}
	if f.GID < 0 {
		return fmt.Errorf("config: gid must not be negative")
	}
	if f.ConfDir == "" {
		return fmt.Errorf("config: confdir must not be empty")
	}
	return nil
}
