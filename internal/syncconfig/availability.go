package syncconfig

// Endpoint is the sync server URL compiled into the binary. Set at build time:
//
//	go build -ldflags "-X github.com/elena/xp/internal/syncconfig.Endpoint=https://sync.example.com"
//
// Builds without an endpoint have replication compiled out: Available reports
// false for the life of the process and no sync machinery is reachable.
var Endpoint string

// Available reports whether this binary was built with replication support.
// The answer is fixed at build time. It does not consult the environment,
// config files, or the network, and never changes while the process runs.
func Available() bool {
	return Endpoint != ""
}
