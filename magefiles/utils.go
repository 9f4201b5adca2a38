//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/magefile/mage/mg"
)

type cmdOptions struct {
	args   []string
	stream bool
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) { o.args = args }
}

// withStream echoes the command output while it runs, as -v does.
func withStream() cmdOption {
	return func(o *cmdOptions) { o.stream = true }
}

// executeCmd runs a tool from the repository root and returns its combined
// output. Output of a failed quiet command is printed before returning.
func executeCmd(command string, options ...cmdOption) (string, error) {
	var opts cmdOptions
	for _, o := range options {
		o(&opts)
	}
	fmt.Printf("> %s %s\n", command, strings.Join(opts.args, " "))

	var out bytes.Buffer
	cmd := exec.Command(command, opts.args...)
	stream := opts.stream || mg.Verbose()
	cmd.Stdout, cmd.Stderr = &out, &out
	if stream {
		cmd.Stdout = io.MultiWriter(&out, os.Stdout)
		cmd.Stderr = io.MultiWriter(&out, os.Stderr)
	}
	if err := cmd.Run(); err != nil {
		if !stream {
			os.Stdout.Write(out.Bytes())
		}
		return "", errors.Wrapf(err, "%s %s", command, strings.Join(opts.args, " "))
	}
	return out.String(), nil
}
