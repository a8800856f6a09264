package eventbus

import (
	"context"
	"fmt"
)

// HealthStatus reports the service queue's connectivity and backlog.
type HealthStatus struct {
	Up            bool   `json:"up"`
	Queue         string `json:"queue"`
	MessageCount  int    `json:"messageCount"`
	ConsumerCount int    `json:"consumerCount"`
	Detail        string `json:"detail,omitempty"`
}

// CheckHealth inspects the service's own queue. A connection/channel in a
// bad state, or a missing queue, reports Up=false with Detail explaining
// why, rather than returning an error — health checks are polled
// frequently and callers generally want a status, not an exception.
func (b *Bus) CheckHealth(ctx context.Context) HealthStatus {
	b.mu.Lock()
	ch, initialized := b.ch, b.initialized
	b.mu.Unlock()

	if !initialized || ch == nil {
		return HealthStatus{Up: false, Queue: b.cfg.QueueName(), Detail: "not initialized"}
	}

	q, err := ch.QueueInspect(b.cfg.QueueName())
	if err != nil {
		return HealthStatus{Up: false, Queue: b.cfg.QueueName(), Detail: fmt.Sprintf("queue inspect failed: %v", err)}
	}

	return HealthStatus{
		Up:            true,
		Queue:         q.Name,
		MessageCount:  q.Messages,
		ConsumerCount: q.Consumers,
	}
}
