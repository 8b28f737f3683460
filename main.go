package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/cmd"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/env"

	"github.com/getsentry/sentry-go"
)

func main() {
	// An empty SENTRY_DSN leaves the client disabled.
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              os.Getenv("SENTRY_DSN"),
		Environment:      env.Env,
		Release:          "uploader@" + cmd.Version,
		SampleRate:       0.1,
		EnableTracing:    true,
		TracesSampleRate: 0.1,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "sentry.Init: %v\n", err)
	}

	err := cmd.Execute()
	sentry.Flush(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}
