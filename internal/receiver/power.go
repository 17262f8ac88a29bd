package receiver

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandWaitDelay bounds how long output pipes are drained after the
// shell is killed; children that inherited them may outlive it.
const commandWaitDelay = time.Second

// CommandPowerSwitch powers a receiver by running a shell command, for
// setups where power is driven by an IR blaster or a smart plug.
type CommandPowerSwitch struct {
	OnCommand  string
	OffCommand string // falls back to OnCommand when empty
}

// SetPower runs the on or off command through /bin/sh and waits for it.
// The command is killed when ctx expires.
func (p CommandPowerSwitch) SetPower(ctx context.Context, on bool) error {
	command := p.OnCommand
	if !on && p.OffCommand != "" {
		command = p.OffCommand
	}
	if command == "" {
		return ErrNoPowerMechanism
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.WaitDelay = commandWaitDelay
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("power command %q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// NetworkPowerSwitch powers a receiver through its control protocol.
// Most receivers accept power-on over the network only when network
// standby is enabled on the unit.
type NetworkPowerSwitch struct {
	Client Client
}

// SetPower sends the power command.
func (p NetworkPowerSwitch) SetPower(ctx context.Context, on bool) error {
	if on {
		return p.Client.PowerOn(ctx)
	}
	return p.Client.PowerOff(ctx)
}
