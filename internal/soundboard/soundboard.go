// Package soundboard holds the versioned allowlist of `/play <sound>` command names (§4.G step 4).
// The distilled spec leaves the registered sound set unspecified; this is the classic Basecamp
// Campfire sound roster, preserved from the original implementation (see original_source/).
package soundboard

// Version identifies the allowlist revision, bumped whenever sounds are added or removed so clients
// can cache the set and detect staleness.
const Version = 1

// Names is the ordered, canonical list of registered sound command names.
var Names = []string{
	"56k",
	"bell",
	"bueller",
	"crickets",
	"dangerzone",
	"deeper",
	"drama",
	"greatjob",
	"horn",
	"noooo",
	"ohmy",
	"rimshot",
	"tada",
	"yeah",
}

// Allowed is Names indexed as a set, built once at package init for O(1) membership checks from
// internal/sanitize.
var Allowed = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Names))
	for _, n := range Names {
		m[n] = struct{}{}
	}
	return m
}()

// IsRegistered reports whether name is a recognized sound command.
func IsRegistered(name string) bool {
	_, ok := Allowed[name]
	return ok
}
