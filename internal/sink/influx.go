package sink

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"latencyprobe/internal/domain"
)

// Influx mirrors flushed batches as points in an InfluxDB bucket. It is a
// best-effort secondary output; the file sink remains the sink of record.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInflux creates an Influx sink against the given server and bucket.
func NewInflux(url, token, org, bucket string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

func (s *Influx) Append(records []domain.Record) error {
	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		p := influxdb2.NewPointWithMeasurement("latency").
			AddTag("protocol", string(r.Protocol)).
			AddTag("target", r.Target).
			AddTag("status", string(r.Status)).
			AddField("success", r.Status == domain.StatusSuccess).
			SetTime(r.Timestamp.Time())
		if r.DurationMS != nil {
			p.AddField("duration_ms", *r.DurationMS)
		}
		if r.Reason != nil {
			p.AddTag("reason", *r.Reason)
		}
		points = append(points, p)
	}
	return s.write.WritePoint(context.Background(), points...)
}

func (s *Influx) Close() error {
	s.client.Close()
	return nil
}
