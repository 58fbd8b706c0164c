package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/nats"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// NatsFormat selects how NatsSubscriber decodes a message body.
type NatsFormat int

const (
	// FormatPutLine decodes each line of the message as one `put ...`
	// line (§6), one or more per message.
	FormatPutLine NatsFormat = iota
	// FormatInflux decodes the message as InfluxDB line-protocol.
	FormatInflux
)

// NatsSubscriber is the optional NATS listener of §4.12. Its
// worker-pool fan-out (N goroutines draining a shared channel when
// workers > 1, inline decode otherwise) is grounded on the teacher's
// ReceiveNats (pkg/metricstore/lineprotocol.go).
type NatsSubscriber struct {
	client  *nats.Client
	subject string
	format  NatsFormat
	ingress *Ingress
	workers int
}

func NewNatsSubscriber(client *nats.Client, subject string, format NatsFormat, ingress *Ingress, workers int) *NatsSubscriber {
	if workers < 1 {
		workers = 1
	}
	return &NatsSubscriber{client: client, subject: subject, format: format, ingress: ingress, workers: workers}
}

// Run subscribes to the configured subject and blocks until ctx is
// cancelled and all worker goroutines have drained their backlog.
func (s *NatsSubscriber) Run(ctx context.Context) error {
	if s.client == nil {
		cclog.Warn("ingest: NATS client not initialized, skipping subscription")
		return nil
	}

	decode := s.decodeFunc()

	var wg sync.WaitGroup
	if s.workers > 1 {
		msgs := make(chan []byte, s.workers*2)
		wg.Add(s.workers)
		for i := 0; i < s.workers; i++ {
			go func() {
				defer wg.Done()
				for m := range msgs {
					decode(m)
				}
			}()
		}
		if err := s.client.Subscribe(s.subject, func(_ string, data []byte) {
			select {
			case msgs <- data:
			case <-ctx.Done():
			}
		}); err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			close(msgs)
		}()
	} else {
		if err := s.client.Subscribe(s.subject, func(_ string, data []byte) {
			decode(data)
		}); err != nil {
			return err
		}
	}

	cclog.Infof("ingest: NATS subscription to %q established", s.subject)
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (s *NatsSubscriber) decodeFunc() func([]byte) {
	switch s.format {
	case FormatInflux:
		return s.decodeInflux
	default:
		return s.decodePutLines
	}
}

func (s *NatsSubscriber) decodePutLines(data []byte) {
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		metric, ts, v, tags, err := ParseLine(string(line))
		if err != nil {
			cclog.Warnf("ingest: nats: %v", err)
			continue
		}
		if res := s.ingress.Put(metric, tags, ts, v); res.Code != Ok {
			cclog.Warnf("ingest: nats put rejected: %s", res.Reason)
		}
	}
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

// decodeInflux decodes one InfluxDB line-protocol message: measurement
// is the metric, tags are forwarded as-is, and the single expected
// field is "value" (mirrors the teacher's DecodeLine field handling).
func (s *NatsSubscriber) decodeInflux(data []byte) {
	dec := lineprotocol.NewDecoderWithBytes(data)
	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			cclog.Warnf("ingest: nats influx: %v", err)
			return
		}
		metric := string(measurement)

		tags := make(map[string]string)
		for {
			key, val, err := dec.NextTag()
			if err != nil {
				cclog.Warnf("ingest: nats influx: %v", err)
				return
			}
			if key == nil {
				break
			}
			tags[string(key)] = string(val)
		}

		var value schema.Float
		for {
			key, val, err := dec.NextField()
			if err != nil {
				cclog.Warnf("ingest: nats influx: %v", err)
				return
			}
			if key == nil {
				break
			}
			if string(key) != "value" {
				continue
			}
			switch val.Kind() {
			case lineprotocol.Float:
				value = schema.Float(val.FloatV())
			case lineprotocol.Int:
				value = schema.Float(val.IntV())
			case lineprotocol.Uint:
				value = schema.Float(val.UintV())
			}
		}

		t, err := dec.Time(lineprotocol.Nanosecond, time.Now())
		if err != nil {
			cclog.Warnf("ingest: nats influx: %v", err)
			return
		}

		if res := s.ingress.Put(metric, tags, t.UnixMilli(), value); res.Code != Ok {
			cclog.Warnf("ingest: nats influx put rejected: %s", res.Reason)
		}
	}
}
