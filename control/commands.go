package control

import (
	"context"
	"encoding/json"
	"fmt"

	"ticket-reservation-bot/engine"
	"ticket-reservation-bot/queues"

	"github.com/rs/zerolog/log"
)

// HandleCommand applies a queued control command to the engine. Errors are
// rejections of the command, not delivery failures.
func (h *Handler) HandleCommand(ctx context.Context, cmd *queues.ControlCommand) error {
	switch cmd.Action {
	case queues.ActionConfigure:
		var s engine.Settings
		if err := json.Unmarshal(cmd.Settings, &s); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
		return h.engine.Configure(s)
	case queues.ActionStart:
		return h.engine.Start(ctx, cmd.BearerToken)
	case queues.ActionStop:
		h.engine.Stop()
		log.Info().Str("state", string(h.engine.State())).Msg("control: stop command applied")
		return nil
	default:
		return fmt.Errorf("unknown control action %q", cmd.Action)
	}
}
