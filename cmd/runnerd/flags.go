package main

import "time"

// Flag structs decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type StartFlags struct {
	ProjectID string
	Command   string
	WorkDir   string
	Port      int
	EnvKVs    []string
}

type StopFlags struct {
	ProjectID string
	Timeout   time.Duration
	Reason    string
	Port      int
	Force     bool
}

type StatusFlags struct {
	ProjectID string
	// All additionally lists what the daemon's state store remembers from
	// previous runs.
	All bool
}

type HealthCheckFlags struct {
	ProjectID string
	Port      int
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
