package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

type RunFlags struct {
	Report string // json|yaml|text
}

type ExecFlags struct {
	Name          string
	Hold          time.Duration
	ReadyURL      string
	ReadyAttempts int
	ReadyInterval time.Duration
}

type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	Token      string
	User       string // name:password
	ID         int
}

type InitFlags struct {
	Kind   string
	Name   string
	Format string
	Output string
	Force  bool
}

// Report output formats.
const (
	reportJSON = "json"
	reportYAML = "yaml"
	reportText = "text"
)
