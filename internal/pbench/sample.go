package pbench

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sample lines are "pattern;transport;rtt_us;server_us" with integer
// microseconds.
const sampleFields = 4

func (s Sample) String() string {
	return fmt.Sprintf("%s;%s;%d;%d", s.Pattern, s.Transport, s.RTT.Microseconds(), s.Server.Microseconds())
}

// ParseSample parses one line written by Sample.String.
func ParseSample(line string) (Sample, error) {
	fields := strings.Split(strings.TrimSpace(line), ";")
	if len(fields) != sampleFields {
		return Sample{}, fmt.Errorf("%w: sample %q: want %d fields, got %d", ErrMalformedInput, line, sampleFields, len(fields))
	}
	rtt, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: sample rtt: %v", ErrMalformedInput, err)
	}
	server, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: sample server time: %v", ErrMalformedInput, err)
	}
	return Sample{
		Pattern:   fields[0],
		Transport: fields[1],
		RTT:       time.Duration(rtt) * time.Microsecond,
		Server:    time.Duration(server) * time.Microsecond,
	}, nil
}
