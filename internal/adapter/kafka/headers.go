package kafka

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier exposes Kafka record headers to otel propagators.
type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (h *headerCarrier) Get(key string) string {
	for _, hdr := range *h {
		if hdr.Key == key {
			return string(hdr.Value)
		}
	}
	return ""
}

func (h *headerCarrier) Set(key, value string) {
	for i, hdr := range *h {
		if hdr.Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*h))
	for _, hdr := range *h {
		keys = append(keys, hdr.Key)
	}
	return keys
}
