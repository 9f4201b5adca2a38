//go:build mage

package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

const (
	shaderSrcDir = "assets/shaders/src"
	shaderOutDir = "assets/shaders"
	textureDir   = "assets/textures"
)

type Build mg.Namespace

// Compiles every GLSL program under assets/shaders/src into SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Writes the sample textures the testbed scene uses.
func (Build) Textures() error {
	if err := os.MkdirAll(textureDir, 0o755); err != nil {
		return err
	}
	const size, cell = 256, 32
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.RGBA{200, 90, 60, 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{230, 220, 200, 255}
			}
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(filepath.Join(textureDir, "checker.png"))
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// Builds shaders and textures, then the binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders, Build.Textures)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/anima", "."), withStream())
	return err
}

// Runs the unit tests with the race detector.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

func buildShaders() error {
	if err := os.MkdirAll(shaderOutDir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(shaderSrcDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".vert" && ext != ".frag") {
			continue
		}
		// pbr.vert -> pbr.vert.spv
		out := filepath.Join(shaderOutDir, e.Name()+".spv")
		args := []string{"-I", shaderSrcDir, filepath.Join(shaderSrcDir, e.Name()), "-o", out}
		if _, err := executeCmd("glslc", withArgs(args...)); err != nil {
			return fmt.Errorf("compiling %s: %w", strings.TrimSuffix(e.Name(), ext), err)
		}
	}
	return nil
}
