package session

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Request is the parsed form of the session arguments.
type Request struct {
	SendIntent    string
	UpdatePackage string
	WipeData      bool
	WipeCache     bool
}

// IsEmpty reports that no operation was requested.
func (r Request) IsEmpty() bool {
	return r.UpdatePackage == "" && !r.WipeData && !r.WipeCache
}

// ParseRequest interprets resolved session arguments. Unknown flags are
// logged and skipped, never fatal: an old main system writing a flag
// this build does not know must not wedge the device in recovery.
func ParseRequest(args []string, log zerolog.Logger) Request {
	fs := pflag.NewFlagSet("recovery", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)

	sendIntent := fs.String("send_intent", "", "text to report back to the main system")
	updatePackage := fs.String("update_package", "", "ROOT:path of a package to install")
	wipeData := fs.Bool("wipe_data", false, "erase user data (and cache)")
	wipeCache := fs.Bool("wipe_cache", false, "erase cache")

	for _, a := range args {
		if name, ok := strings.CutPrefix(a, "--"); ok {
			name, _, _ = strings.Cut(name, "=")
			if name != "" && fs.Lookup(name) == nil {
				log.Warn().Str("flag", a).Msg("skipping unknown option")
			}
		}
	}

	if err := fs.Parse(args); err != nil {
		// Best effort: keep whatever parsed before the error.
		log.Error().Err(err).Msg("invalid command argument")
	}

	req := Request{
		SendIntent:    *sendIntent,
		UpdatePackage: *updatePackage,
		WipeData:      *wipeData,
		WipeCache:     *wipeCache,
	}
	if req.WipeData {
		req.WipeCache = true
	}
	return req
}
