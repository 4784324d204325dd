package influxdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/loykin/harness/internal/history"
)

// Measurement is the InfluxDB measurement events are written to.
const Measurement = "process_history"

// Sink writes events as points through the blocking write API, so Send
// reports delivery failures to the caller.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// New creates a sink for the given server URL, token, org and bucket.
func New(serverURL, token, org, bucket string) (*Sink, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, errors.New("empty InfluxDB URL")
	}
	if org == "" || bucket == "" {
		return nil, errors.New("influxdb sink requires org and bucket")
	}
	client := influxdb2.NewClientWithOptions(serverURL, token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(5))
	return &Sink{client: client, writeAPI: client.WriteAPIBlocking(org, bucket)}, nil
}

// Point converts an event into a line-protocol point.
func Point(e history.Event) *write.Point {
	rec := e.Record
	tags := map[string]string{
		"event":   string(e.Type),
		"command": rec.Command,
		"name":    rec.Name,
		"state":   rec.State,
	}
	if rec.Signal != "" {
		tags["signal"] = rec.Signal
	}
	fields := map[string]any{
		"entry_id":  rec.ID,
		"pid":       rec.PID,
		"exit_code": rec.ExitCode,
	}
	if rec.Error != "" {
		fields["error"] = rec.Error
	}
	return influxdb2.NewPoint(Measurement, tags, fields, e.OccurredAt)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if err := s.writeAPI.WritePoint(ctx, Point(e)); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
