//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed in a window.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "config.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed on the headless backend for a few hundred frames.
func (Run) Headless() error {
	fmt.Println("Run engine headless...")
	if _, err := executeCmd("go", withArgs("run", ".", "-backend", "headless", "-frames", "300"), withStream()); err != nil {
		return err
	}
	return nil
}
