package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/model"
)

const (
	// StreamName is the name of the test-run progress stream.
	StreamName = "TESTRUNS"

	// SubjectPrefix is the prefix for all test-run subjects.
	SubjectPrefix = "testruns"
)

// StreamManager handles JetStream stream operations for run progress.
type StreamManager struct {
	client  *Client
	publish func(subject string, data []byte) (jetstream.PubAckFuture, error)
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{
		client: client,
		publish: func(subject string, data []byte) (jetstream.PubAckFuture, error) {
			return client.JetStream().PublishAsync(subject, data)
		},
	}
}

// EnsureStream ensures the progress stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Testing run progress events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// ProgressSubject returns the subject for a session's progress events.
func ProgressSubject(sessionID string, stage model.Stage) string {
	return fmt.Sprintf("%s.%s.progress.%s", SubjectPrefix, sessionID, stage)
}

// Observer returns a ProgressFunc that mirrors every event onto the stream.
// Publishing is fire-and-forget: the ack is awaited off the notify path so a
// slow or down NATS never stalls a run, and failures are logged.
func (m *StreamManager) Observer(ctx context.Context, next model.ProgressFunc) model.ProgressFunc {
	return func(p model.Progress) {
		m.mirror(ctx, p)
		next.Notify(p)
	}
}

func (m *StreamManager) mirror(ctx context.Context, p model.Progress) {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = "pending"
	}

	data, err := json.Marshal(p)
	if err != nil {
		m.client.logger.Warn("failed to marshal progress event",
			zap.String("stage", string(p.Stage)),
			zap.Error(err),
		)
		return
	}

	future, err := m.publish(ProgressSubject(sessionID, p.Stage), data)
	if err != nil {
		m.client.logger.Warn("failed to publish progress event",
			zap.String("stage", string(p.Stage)),
			zap.Error(err),
		)
		return
	}

	go func() {
		select {
		case <-future.Ok():
		case err := <-future.Err():
			m.client.logger.Warn("progress event publish not acked",
				zap.String("stage", string(p.Stage)),
				zap.Error(err),
			)
		case <-ctx.Done():
		}
	}()
}
