package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitLevel(t *testing.T) {
	var buf bytes.Buffer
	l := initWriter(&buf, "udstool", false)
	MessageFunc(l)("ATZ")
	assert.Empty(t, buf.String())

	ErrorFunc(l)(errors.New("port gone"))
	assert.Contains(t, buf.String(), "port gone")
	assert.Contains(t, buf.String(), "udstool")

	buf.Reset()
	l = initWriter(&buf, "udstool", true)
	MessageFunc(l)("ATZ")
	assert.Contains(t, buf.String(), "ATZ")
}
