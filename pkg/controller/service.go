package controller

import (
	"fmt"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// The primary serves other nodes through the Dispatcher.
var _ protocol.Service = (*Controller)(nil)

func (c *Controller) serving() error {
	if !c.b.serves {
		return fmt.Errorf("%w: node is %s", protocol.ErrNotPrimary, c.b.name)
	}
	return nil
}

// Hello admits a configured, still active secondary
func (c *Controller) Hello(peer, sessionID string) (map[string]string, error) {
	if err := c.serving(); err != nil {
		return nil, err
	}
	switch {
	case !c.membership.IsKnown(peer):
		return nil, fmt.Errorf("%w: %q is not configured", protocol.ErrUnknownNode, peer)
	case peer == c.membership.LocalID():
		return nil, fmt.Errorf("%w: %q is the primary itself", protocol.ErrInvalidArgument, peer)
	case !c.membership.IsActive(peer):
		return nil, fmt.Errorf("%w: %q was dropped from the session", protocol.ErrUnknownNode, peer)
	}

	c.logger.Info("Secondary admitted", logging.Peer(peer), logging.String("peer_session", sessionID))
	return map[string]string{
		protocol.ArgPrimaryID: c.membership.LocalID(),
		protocol.ArgSessionID: c.sessionID,
	}, nil
}

// Wait joins peer to the local barrier of gate
func (c *Controller) Wait(peer string, gate protocol.Gate) (barrier.Result, barrier.WaitTimes) {
	if c.serving() != nil {
		return barrier.ResultRejected, barrier.WaitTimes{}
	}
	b, ok := c.barriers[gate]
	if !ok {
		return barrier.ResultRejected, barrier.WaitTimes{}
	}
	return b.Wait(peer)
}

// Laggards reports who was missing when gate last timed out
func (c *Controller) Laggards(gate protocol.Gate) []string {
	if c.serving() != nil {
		return nil
	}
	if b, ok := c.barriers[gate]; ok {
		return b.LastTimeout()
	}
	return nil
}

// DeltaTime serves GetDeltaTime
func (c *Controller) DeltaTime() (float64, error) {
	if err := c.serving(); err != nil {
		return 0, err
	}
	return c.localDeltaTime(), nil
}

// Timecode serves GetTimecode
func (c *Controller) Timecode() (framecache.TimecodeValue, error) {
	if err := c.serving(); err != nil {
		return framecache.TimecodeValue{}, err
	}
	return c.localTimecode(), nil
}

// SyncData serves GetSyncData
func (c *Controller) SyncData(group syncobj.Group) (map[string]string, error) {
	if err := c.serving(); err != nil {
		return nil, err
	}
	if !group.Valid() {
		return nil, fmt.Errorf("%w: sync group %d", protocol.ErrInvalidArgument, group)
	}
	return c.localSyncData(group), nil
}

// InputData serves GetInputData
func (c *Controller) InputData() (map[string]string, error) {
	if err := c.serving(); err != nil {
		return nil, err
	}
	return c.localInputData(), nil
}

// EventsData serves GetEventsData
func (c *Controller) EventsData() (framecache.EventsData, error) {
	if err := c.serving(); err != nil {
		return framecache.EventsData{}, err
	}
	return c.localEventsData(), nil
}

// NativeInputData serves GetNativeInputData
func (c *Controller) NativeInputData() (map[string]string, error) {
	if err := c.serving(); err != nil {
		return nil, err
	}
	return c.localNativeInputData(), nil
}

// EmitJSON accepts an event forwarded by a secondary
func (c *Controller) EmitJSON(ev events.JSONEvent) error {
	if err := c.serving(); err != nil {
		return err
	}
	if err := events.ValidateJSON(ev); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}
	c.events.AddJSON(ev)
	return nil
}

// EmitBinary accepts a binary event forwarded by a secondary
func (c *Controller) EmitBinary(ev events.BinaryEvent) error {
	if err := c.serving(); err != nil {
		return err
	}
	c.events.AddBinary(ev)
	return nil
}
