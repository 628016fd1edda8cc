package main

import "time"

var (
	configFile      string
	host            string
	port            int
	lokiURL         string
	lokiTimeout     time.Duration
	lokiTenantID    string
	lokiGzip        bool
	maxMessageBytes int64
	logLevel        string
	logFormat       string
	metricsAddr     string
)
