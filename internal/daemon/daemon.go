// Package daemon detaches udpmirror from its controlling terminal.
//
// Go cannot fork a running process, so Detach starts a second copy of the
// executable with the same arguments in a new session and the parent
// exits. The child recognizes itself through an environment marker.
package daemon

import (
	"errors"
	"os"
	"strings"
)

// EnvMarker is set to "1" in the environment of the detached child.
const EnvMarker = "UDPMIRROR_DAEMON_CHILD"

// ErrUnsupported is returned by Detach on platforms without sessions.
var ErrUnsupported = errors.New("daemonize is not supported on this platform")

// IsChild reports whether the current process is the detached child.
func IsChild() bool {
	return os.Getenv(EnvMarker) == "1"
}

// Detach starts the detached child and returns its pid. The caller is
// expected to exit with status 0 afterwards.
func Detach() (int, error) {
	return detach(os.Args[1:])
}

// Prepare completes detaching inside the child: it resets the umask and
// moves to the root directory. Call it after files named by relative paths
// have been read.
func Prepare() error {
	return prepare()
}

// childEnv returns environ with the marker set exactly once.
func childEnv(environ []string) []string {
	env := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, EnvMarker+"=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, EnvMarker+"=1")
}
