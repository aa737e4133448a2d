package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeEnv(t *testing.T) {
	got := MergeEnv(
		[]string{"PATH=/bin", "RUSTFLAGS=-Cold", "HOME=/root", "RUSTFLAGS=-Cdup"},
		"RUSTFLAGS=-Cnew", "ASAN_OPTIONS=x=1", "ASAN_OPTIONS=x=2")
	assert.Equal(t, []string{"PATH=/bin", "RUSTFLAGS=-Cnew", "HOME=/root", "ASAN_OPTIONS=x=2"}, got)
}
