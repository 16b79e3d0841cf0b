package svs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSettle is the pause the sub needs after each frame to finish its
// flash write.
const DefaultSettle = 100 * time.Millisecond

// Sender writes one frame and waits for the acknowledgment.
type Sender interface {
	SendCommand(ctx context.Context, payload []byte) error
}

// Controls are the user-adjustable sub settings.
type Controls struct {
	Volume float64 `json:"volume"`
	Phase  float64 `json:"phase"`
}

// Controller sends frames one at a time. After each acknowledged frame the
// next one waits until settle has passed since the ack.
type Controller struct {
	sender Sender
	settle time.Duration
	logger *slog.Logger

	mu   sync.Mutex    // serializes sends
	pace *rate.Limiter // nil until the first ack
}

// NewController creates a Controller. settle < 0 uses DefaultSettle and
// settle == 0 disables the pause.
func NewController(sender Sender, settle time.Duration, logger *slog.Logger) *Controller {
	if settle < 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{sender: sender, settle: settle, logger: logger}
}

// Send writes a prebuilt frame.
func (c *Controller) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pace != nil {
		if err := c.pace.Wait(ctx); err != nil {
			return fmt.Errorf("svs: wait for settle: %w", err)
		}
	}
	if err := c.sender.SendCommand(ctx, frame); err != nil {
		return err
	}
	c.settleFrom(time.Now())
	return nil
}

// settleFrom restarts the pacing bucket empty at ack, so the next Wait
// returns no earlier than ack+settle.
func (c *Controller) settleFrom(ack time.Time) {
	if c.settle == 0 {
		return
	}
	c.pace = rate.NewLimiter(rate.Every(c.settle), 1)
	c.pace.AllowN(ack, 1)
}

// SetVolume sets the volume in dB.
func (c *Controller) SetVolume(ctx context.Context, db float64) error {
	frame, err := VolumeFrame(db)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, frame); err != nil {
		return err
	}
	c.logger.Info("[SVS] volume updated", "db", db)
	return nil
}

// SetPhase sets the phase in degrees.
func (c *Controller) SetPhase(ctx context.Context, deg float64) error {
	frame, err := PhaseFrame(deg)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, frame); err != nil {
		return err
	}
	c.logger.Info("[SVS] phase updated", "degrees", deg)
	return nil
}

// Apply sends volume then phase.
func (c *Controller) Apply(ctx context.Context, controls Controls) error {
	if err := c.SetVolume(ctx, controls.Volume); err != nil {
		return err
	}
	return c.SetPhase(ctx, controls.Phase)
}
