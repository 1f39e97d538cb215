package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsPort(t *testing.T) {
	assert.True(t, containsPort("192.168.1.10:5000"))
	assert.True(t, containsPort("collector.lan:8080"))
	assert.False(t, containsPort("192.168.1.10"))
	assert.False(t, containsPort("collector.lan"))
	assert.False(t, containsPort("[fe80::1]"))
	assert.True(t, containsPort("[fe80::1]:5000"))
}
