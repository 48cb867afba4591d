package stm32

import (
	"context"
	"fmt"
	"io"
)

// Flash runs the complete update: enable, erase, write image at addr and
// jump there. size is only used for progress reporting and may be -1.
func (c *Client) Flash(ctx context.Context, image io.Reader, size int, addr uint32) error {
	c.sizeHint = size
	defer func() { c.sizeHint = -1 }()

	c.onMessage("synchronizing with bootloader")
	if err := c.Enable(ctx); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	c.onMessage("erasing flash")
	if err := c.Erase(ctx); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	c.onMessage(fmt.Sprintf("writing image at 0x%08X", addr))
	if err := c.Write(ctx, addr, image); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.onMessage(fmt.Sprintf("jumping to 0x%08X", addr))
	if err := c.Go(ctx, addr); err != nil {
		return fmt.Errorf("go: %w", err)
	}
	return nil
}
