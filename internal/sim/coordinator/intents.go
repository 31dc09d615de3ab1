package coordinator

import (
	"sharedworld.ai/internal/protocol"
)

// Intent applies an agent's request to the world and answers it. A rejected
// intent (unknown or stale target) is not an error: the agent simply sees its
// replica corrected by later commands.
func (c *Coordinator) Intent(agent string, in protocol.IntentMsg) protocol.AckMsg {
	if _, ok := c.reg.get(agent); !ok {
		return protocol.NewReject(in.ID, protocol.ErrNotJoined, "agent not joined")
	}
	w := c.world

	var ok bool
	switch in.Op {
	case protocol.OpMove:
		if in.Pose == nil {
			return protocol.NewReject(in.ID, protocol.ErrBadRequest, "missing pose")
		}
		ok = w.Move(agent, *in.Pose)
	case protocol.OpSetShape:
		if in.Shape == nil {
			return protocol.NewReject(in.ID, protocol.ErrBadRequest, "missing shape")
		}
		ok = w.SetShape(agent, *in.Shape)
	case protocol.OpWatch:
		ok = w.Watch(agent, in.Target)
	case protocol.OpUnwatch:
		ok = w.Unwatch(agent, in.Target)
	case protocol.OpOpenContainer:
		ok = w.OpenContainer(agent, in.Target)
	case protocol.OpCloseContainer:
		ok = w.CloseContainer(agent, in.Target)
	case protocol.OpPickUp:
		ok = w.PickUp(agent, in.Target)
	case protocol.OpPutDown:
		if in.Pose == nil {
			return protocol.NewReject(in.ID, protocol.ErrBadRequest, "missing pose")
		}
		ok = w.PutDown(agent, in.Target, *in.Pose)
	case protocol.OpPutInto:
		ok = w.PutInto(agent, in.Target, in.Container)
	case protocol.OpPush:
		ok = w.Push(agent, in.Target, in.DX, in.DY)
	case protocol.OpOpenDoor:
		ok = w.OpenDoor(agent, in.Target)
	case protocol.OpCloseDoor:
		ok = w.CloseDoor(agent, in.Target)
	default:
		return protocol.NewReject(in.ID, protocol.ErrUnknownOp, "unknown op: "+in.Op)
	}

	ack := protocol.NewAck(in.ID, ok)
	if !ok {
		ack.Code = protocol.ErrInvalidTarget
	}
	ack.Step = c.step.Load()
	return ack
}
