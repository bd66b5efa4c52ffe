package voicepool

// Action is the structural change a group needs.
type Action string

const (
	ActionNone   Action = "none"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// CreateRequest describes a new instance cloned from the canonical channel.
type CreateRequest struct {
	Source   Channel
	Name     string
	Position int
}

// RenameRequest describes one renumbering edit.
type RenameRequest struct {
	Channel Channel
	Name    string
}

// Plan is the outcome of inspecting one group snapshot.
type Plan struct {
	Action  Action
	Empty   int
	Create  *CreateRequest
	Deletes []Channel
}

// Structural reports whether the plan issues any create or delete.
func (p Plan) Structural() bool {
	return p.Create != nil || len(p.Deletes) > 0
}

// PlanGroup decides what the group named topic needs, given its members in
// list order. It looks only at the snapshot.
func PlanGroup(topic string, members []Channel) Plan {
	empties := make([]Channel, 0, len(members))
	for _, ch := range members {
		if ch.Empty() {
			empties = append(empties, ch)
		}
	}

	switch {
	case len(empties) == 0:
		plan := Plan{Action: ActionCreate}
		canonical, ok := Canonical(topic, members)
		if !ok {
			// Nothing to clone from; Create stays nil.
			return plan
		}
		plan.Create = &CreateRequest{
			Source:   canonical,
			Name:     NumberedName(topic, len(members)+1),
			Position: canonical.Position,
		}
		return plan
	case len(empties) > 1:
		return Plan{
			Action:  ActionDelete,
			Empty:   len(empties),
			Deletes: append([]Channel(nil), empties[1:]...),
		}
	default:
		return Plan{Action: ActionNone, Empty: 1}
	}
}

// Canonical finds the unsuffixed instance named exactly topic.
func Canonical(topic string, members []Channel) (Channel, bool) {
	for _, ch := range members {
		if ch.Name == topic {
			return ch, true
		}
	}
	return Channel{}, false
}

// Renumber returns the renames that make names contiguous. The canonical
// channel (named exactly topic) is position 1 and is never renamed; every other
// member, in list order, becomes "<topic> 2", "<topic> 3" and so on. Members
// already carrying the right name are skipped.
func Renumber(topic string, members []Channel) []RenameRequest {
	var out []RenameRequest
	canonicalSeen := false
	ordinal := 1
	for _, ch := range members {
		if ch.Name == topic && !canonicalSeen {
			canonicalSeen = true
			continue
		}
		ordinal++
		name := NumberedName(topic, ordinal)
		if ch.Name == name {
			continue
		}
		out = append(out, RenameRequest{Channel: ch, Name: name})
	}
	return out
}
