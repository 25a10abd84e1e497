package worker

import (
	"context"
	"fmt"

	"github.com/petrijr/disturb/internal/broker"
	"github.com/petrijr/disturb/internal/message"
	"github.com/petrijr/disturb/internal/topic"
	"github.com/petrijr/disturb/pkg/api"
)

// Start asks the manager of workflow to start process id with payload as its
// initial payload.
func Start(ctx context.Context, b broker.Broker, workflow, id string, payload api.Payload) error {
	if id == "" {
		return fmt.Errorf("start %s: empty workflow process id", workflow)
	}
	data, err := message.NewStart(id, payload).Encode()
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, topic.Manager(workflow), data); err != nil {
		return fmt.Errorf("start %s/%s: %w", workflow, id, err)
	}
	return nil
}
