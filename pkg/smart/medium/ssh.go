package medium

import (
	"fmt"
	"os/exec"

	"github.com/pkg/errors"
)

// Commander creates processes that carry a smart protocol stream on their
// standard input and output. It exists so that tests and alternative
// tunneling schemes can substitute process creation.
type Commander interface {
	// Command creates an unstarted process running the specified remote
	// command.
	Command(command string) (*exec.Cmd, error)
}

// sshCommander creates processes through the ssh executable.
type sshCommander struct {
	// username is the remote username. May be empty.
	username string
	// hostname is the remote host.
	hostname string
	// port is the remote port. Zero means the ssh default.
	port uint16
}

// NewSSHCommander creates a commander that tunnels commands through ssh.
func NewSSHCommander(username, hostname string, port uint16) Commander {
	return &sshCommander{username: username, hostname: hostname, port: port}
}

// Command implements Commander.Command.
func (c *sshCommander) Command(command string) (*exec.Cmd, error) {
	ssh, err := exec.LookPath("ssh")
	if err != nil {
		return nil, errors.Wrap(err, "unable to identify ssh executable")
	}

	// Compute the target.
	target := c.hostname
	if c.username != "" {
		target = fmt.Sprintf("%s@%s", c.username, c.hostname)
	}

	// Set up arguments.
	var arguments []string
	if c.port != 0 {
		arguments = append(arguments, "-p", fmt.Sprintf("%d", c.port))
	}
	arguments = append(arguments, target, command)

	return exec.Command(ssh, arguments...), nil
}

// subprocessCloser terminates a tunneling process when its medium closes.
type subprocessCloser struct {
	// process is the running process.
	process *exec.Cmd
}

// Close implements io.Closer.
func (c *subprocessCloser) Close() error {
	if c.process.Process != nil {
		c.process.Process.Kill()
	}
	c.process.Wait()
	return nil
}

// NewSubprocessClientMedium starts a process through a commander and returns
// a client medium carried on the process' standard input and output. Closing
// the medium terminates the process.
func NewSubprocessClientMedium(commander Commander, command string) (ClientMedium, error) {
	process, err := commander.Command(command)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create tunneling process")
	}
	stdin, err := process.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to redirect input")
	}
	stdout, err := process.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to redirect output")
	}
	if err := process.Start(); err != nil {
		return nil, errors.Wrap(err, "unable to start tunneling process")
	}
	return NewPipeClientMedium(stdout, stdin, &subprocessCloser{process: process}), nil
}
