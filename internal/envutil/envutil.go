package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether AETHERFIT_ENV selects development mode, where
// cookies may be sent over plain HTTP.
func IsDev() bool {
	switch strings.ToLower(os.Getenv("AETHERFIT_ENV")) {
	case "development", "dev", "local":
		return true
	}
	return false
}
