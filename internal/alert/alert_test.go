package alert

import (
	"bytes"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
)

func TestMultiSkipsNil(t *testing.T) {
	var a, b []bool
	s := Multi(
		SinkFunc(func(v bool) { a = append(a, v) }),
		nil,
		SinkFunc(func(v bool) { b = append(b, v) }),
	)
	s.PublishState(true)
	s.PublishState(false)

	assert.Equal(t, []bool{true, false}, a)
	assert.Equal(t, []bool{true, false}, b)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(log.NewLogfmtLogger(&buf), "gateway_down")

	s.PublishState(true)
	assert.Contains(t, buf.String(), "alert sensor on")
	assert.Contains(t, buf.String(), "sensor=gateway_down")

	buf.Reset()
	s.PublishState(false)
	assert.Contains(t, buf.String(), "alert sensor off")
}
