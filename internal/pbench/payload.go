package pbench

import (
	"fmt"
	"strconv"
	"strings"
)

type PayloadSize int32

const (
	PayloadEmpty PayloadSize = iota
	PayloadSmall
	PayloadMedium
	PayloadLarge
	PayloadXLarge
)

var payloadNames = map[PayloadSize]string{
	PayloadEmpty:  "EMPTY",
	PayloadSmall:  "SMALL",
	PayloadMedium: "MEDIUM",
	PayloadLarge:  "LARGE",
	PayloadXLarge: "XLARGE",
}

func (s PayloadSize) String() string {
	if name, ok := payloadNames[s]; ok {
		return name
	}
	return "PayloadSize(" + strconv.Itoa(int(s)) + ")"
}

// Bytes is the target key+value volume of a generated payload.
func (s PayloadSize) Bytes() int {
	switch s {
	case PayloadSmall:
		return 1024
	case PayloadMedium:
		return 10 * 1024
	case PayloadLarge:
		return 100 * 1024
	case PayloadXLarge:
		return 1024 * 1024
	default:
		return 0
	}
}

func ParsePayloadSize(name string) (PayloadSize, error) {
	for size, n := range payloadNames {
		if strings.EqualFold(n, name) {
			return size, nil
		}
	}
	return PayloadEmpty, fmt.Errorf("%w: unknown payload size %q", ErrMalformedInput, name)
}

// GeneratePayload builds key_<i>/value_xxx items until their accumulated
// key and value bytes reach the volume of the given class.
func GeneratePayload(size PayloadSize) []KeyValueItem {
	target := size.Bytes()
	payload := make([]KeyValueItem, 0)
	if target == 0 {
		return payload
	}

	value := "value_" + strings.Repeat("x", target/1000)
	current := 0
	for current < target {
		key := "key_" + strconv.Itoa(len(payload))
		payload = append(payload, KeyValueItem{Key: key, Value: value})
		current += len(key) + len(value)
	}
	return payload
}

// PayloadBytes sums key and value lengths.
func PayloadBytes(payload []KeyValueItem) int {
	n := 0
	for _, item := range payload {
		n += len(item.Key) + len(item.Value)
	}
	return n
}

func synthesize(n int, keyPrefix, valuePrefix string) []KeyValueItem {
	items := make([]KeyValueItem, n)
	for i := range items {
		suffix := strconv.Itoa(i)
		items[i] = KeyValueItem{Key: keyPrefix + suffix, Value: valuePrefix + suffix}
	}
	return items
}

func streamItems(n, valueSize int) []KeyValueItem {
	items := synthesize(n, "stream_key", "stream_value")
	if valueSize > 0 {
		value := strings.Repeat("x", valueSize)
		for i := range items {
			items[i].Value = value
		}
	}
	return items
}

// echo copies src item by item. The result is never nil so an empty payload
// stays an empty list on the wire.
func echo(src []KeyValueItem) []KeyValueItem {
	dst := make([]KeyValueItem, len(src))
	copy(dst, src)
	return dst
}
