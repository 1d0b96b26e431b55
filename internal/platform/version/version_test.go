package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "v1.2.0", Commit: "0123456789abcdef", GoVersion: "go1.24.0"}
	assert.Equal(t, "v1.2.0 (0123456, go1.24.0)", info.String())

	info.Commit = "unknown"
	assert.Equal(t, "v1.2.0 (unknown, go1.24.0)", info.String())
}
