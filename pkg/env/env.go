// Package env records which deployment the process runs in. It is read from
// UPLOADER_ENV at startup and may be overridden by the --env flag.
package env

import "os"

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

// Env is one of Local, Production or Testing.
var Env = detect(os.Getenv("UPLOADER_ENV"))

func detect(v string) string {
	switch v {
	case Production, Testing:
		return v
	default:
		return Local
	}
}

func IsLocal() bool      { return Env == Local }
func IsProduction() bool { return Env == Production }
func IsTesting() bool    { return Env == Testing }

// Set switches the environment. Unknown names are ignored.
func Set(value string) {
	switch value {
	case Local, Production, Testing:
		Env = value
	}
}
