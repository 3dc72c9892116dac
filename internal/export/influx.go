// Package export writes appended risk scores to external time series stores.
package export

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/rival420/donwatcher/internal/domain"
)

// Measurement is the InfluxDB measurement global scores are written to.
const Measurement = "global_risk"

// InfluxSink writes every appended global score as one point.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxSink creates a sink from the export configuration.
// It returns ErrMissingConfig when no URL, org or bucket is configured.
func NewInfluxSink(cfg domain.ExportConfig) (*InfluxSink, error) {
	if cfg.InfluxURL == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, fmt.Errorf("%w: influx export needs url, org and bucket", domain.ErrMissingConfig)
	}

	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		org:      cfg.InfluxOrg,
		bucket:   cfg.InfluxBucket,
	}, nil
}

// WriteGlobalScore implements risk.ScoreSink.
func (s *InfluxSink) WriteGlobalScore(ctx context.Context, score *domain.GlobalRiskScore) error {
	if err := s.writeAPI.WritePoint(ctx, Point(score)); err != nil {
		return fmt.Errorf("failed to write %s point to %s/%s: %w", Measurement, s.org, s.bucket, err)
	}
	return nil
}

// Point converts a global score to an InfluxDB point. The infrastructure
// score field is omitted when no report existed.
func Point(score *domain.GlobalRiskScore) *write.Point {
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("domain", score.Domain).
		AddTag("trend", string(score.TrendDirection)).
		AddField("global_score", score.GlobalScore).
		AddField("domain_group_score", score.DomainGroupScore).
		AddField("pingcastle_contribution", score.PingCastleContribution).
		AddField("domain_group_contribution", score.DomainGroupContribution).
		AddField("trend_percentage", score.TrendPercentage).
		SetTime(score.AssessmentDate)

	if score.PingCastleScore != nil {
		p.AddField("pingcastle_score", *score.PingCastleScore)
	}
	return p
}

// Ping checks that the InfluxDB server is ready.
func (s *InfluxSink) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: influx: %w", domain.ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: influx not ready", domain.ErrUnavailable)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
