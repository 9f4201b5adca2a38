package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

// ShaderSource hands out compiled shader bytecode by program name and stage.
// Implementations must be safe for concurrent use.
type ShaderSource interface {
	Load(name string, stage driver.ShaderStage) ([]byte, error)
}

// DirShaderSource reads SPIR-V files named <name>.<vert|frag>.spv from Dir.
type DirShaderSource struct {
	Dir string
}

func (s DirShaderSource) Load(name string, stage driver.ShaderStage) ([]byte, error) {
	path := filepath.Join(s.Dir, fmt.Sprintf("%s.%s.spv", name, stage.Suffix()))
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read shader module %s", path)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("shader module %s: %d bytes is not SPIR-V", path, len(code))
	}
	return code, nil
}

// MapShaderSource serves bytecode from memory, keyed "<name>.<vert|frag>".
type MapShaderSource map[string][]byte

func (s MapShaderSource) Load(name string, stage driver.ShaderStage) ([]byte, error) {
	key := name + "." + stage.Suffix()
	code, ok := s[key]
	if !ok {
		return nil, errors.Wrapf(core.ErrResourceNotFound, "shader %s", key)
	}
	return code, nil
}
