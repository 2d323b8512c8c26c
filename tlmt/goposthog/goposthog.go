// Package goposthog ships telemetry events to PostHog.
package goposthog

import (
	"context"
	"time"

	"github.com/posthog/posthog-go"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/tlmt"
)

type service struct {
	client posthog.Client
	logger *zap.Logger
}

func New(publicAPIKEY, endpointURL string, logger *zap.Logger) (tlmt.Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := posthog.NewWithConfig(publicAPIKEY, posthog.Config{
		Endpoint: endpointURL,
		Interval: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	ans := service{
		client: client,
		logger: logger.Named("posthog"),
	}

	return &ans, nil
}

func (s *service) Send(_ context.Context, event tlmt.Event) error {
	capture := posthog.Capture{
		DistinctId: event.AnonymousID,
		Event:      event.Name,
		Properties: event.Properties,
		Timestamp:  time.Now().UTC(),
	}

	if err := capture.Validate(); err != nil {
		return err
	}

	if err := s.client.Enqueue(capture); err != nil {
		s.logger.Debug("telemetry event dropped", zap.String("event", event.Name), zap.Error(err))

		return err
	}

	return nil
}

func (s *service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}

	return nil
}
