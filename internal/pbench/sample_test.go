package pbench

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleLine(t *testing.T) {
	s := Sample{
		Pattern:   PatternPingPong,
		Transport: "grpc",
		RTT:       1234 * time.Microsecond,
		Server:    56 * time.Microsecond,
	}
	assert.Equal(t, "ping_pong;grpc;1234;56", s.String())

	got, err := ParseSample("ping_pong;grpc;1234;56\n")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestParseSampleRejects(t *testing.T) {
	for _, line := range []string{"", "unary;grpc;1", "unary;grpc;x;1", "unary;grpc;1;y"} {
		_, err := ParseSample(line)
		assert.ErrorIs(t, err, ErrMalformedInput, line)
	}
}
