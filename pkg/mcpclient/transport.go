package mcpclient

import (
	"fmt"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/config"
)

// ErrUnsupportedTransport is returned when a descriptor names a
// transport type other than stdio. mcpbridge's Non-goals exclude
// transports other than standard-I/O child processes (spec.md §1), so
// unlike the teacher's createTransport, there is no HTTP/SSE branch to
// fall into — this is the only transport kind the proxy ever builds.
var ErrUnsupportedTransport = fmt.Errorf("unsupported transport type")

// createTransport builds the stdio transport for a downstream server,
// merging the process environment with the descriptor's overrides and
// applying an optional working directory.
func createTransport(d config.ServerDescriptor) (*mcpsdk.CommandTransport, error) {
	if d.Type != config.TransportStdio {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, d.Type)
	}
	if d.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command")
	}

	cmd := exec.Command(d.Command, d.Args...)

	env := os.Environ()
	for k, v := range d.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	if d.WorkingDir != "" {
		cmd.Dir = d.WorkingDir
	}

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}
