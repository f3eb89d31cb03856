package server

import (
	"fmt"
	"sync"

	"github.com/satori/go.uuid"
)

//Phase is the lifecycle stage of a live room. Transitions only ever move
//forward: waiting -> playing -> ended.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhasePlaying Phase = "playing"
	PhaseEnded Phase = "ended"
)

//Member is the ephemeral per-player state of a live room. Score starts at
//zero on join and only the score update operation changes it. The display
//name is a denormalized copy resolved once at join time, it is allowed to
//go stale for the lifetime of the room.
type Member struct {
	UserID string
	DisplayName string
	Score int
	SessionID uuid.UUID
}

//Room is the live in-memory state for one active room. The registry is the
//only holder of a mutable reference. All mutating methods must be called
//with mu held, the registry acquires it for the whole operation including
//the broadcast enqueue so per-room event order matches mutation order.
type Room struct {
	mu sync.Mutex
	code string
	phase Phase
	members map[string]*Member
	order []string
	closed bool
}

func newRoom(code string) *Room {
	return &Room{
		code: code,
		phase: PhaseWaiting,
		members: make(map[string]*Member),
		order: make([]string, 0, 4),
	}
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

//insert admits a member, or handles a rejoin for a user that is already
//present. With reset enabled a rejoin overwrites the prior state and the
//score starts over from zero, otherwise the old state survives and only
//the owning session is rebound.
func (r *Room) insert(member *Member, reset bool) {
	existing, ok := r.members[member.UserID]
	if ok && !reset {
		existing.SessionID = member.SessionID
		existing.DisplayName = member.DisplayName
		return
	}
	if !ok {
		r.order = append(r.order, member.UserID)
	}
	r.members[member.UserID] = member
}

func (r *Room) remove(userID string) *Member {
	member, ok := r.members[userID]
	if !ok {
		return nil
	}
	delete(r.members, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return member
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}

//snapshot lists all members in join order.
func (r *Room) snapshot() []MemberInfo {
	infos := make([]MemberInfo, 0, len(r.order))
	for _, id := range r.order {
		member := r.members[id]
		infos = append(infos, MemberInfo{
			UserID: member.UserID,
			DisplayName: member.DisplayName,
			Score: member.Score,
		})
	}
	return infos
}

func (r *Room) memberIDs() []string {
	ids := make([]string, 0, len(r.order))
	ids = append(ids, r.order...)
	return ids
}

//scoreDescription names the fixed scoring tiers of the game. Anything off
//the tier table falls back to a plain point count.
func scoreDescription(points int) string {
	switch points {
	case 1:
		return "1 point"
	case 4:
		return "a 4-point clean sweep"
	case 7:
		return "a 7-point small gold"
	case 10:
		return "a 10-point big gold"
	default:
		return fmt.Sprintf("%d points", points)
	}
}

func scoreMessage(operator *Member, target *Member, points int) string {
	description := scoreDescription(points)
	if operator.UserID == target.UserID {
		return fmt.Sprintf("%s scored %s", operator.DisplayName, description)
	}
	return fmt.Sprintf("%s recorded %s for %s", operator.DisplayName, description, target.DisplayName)
}
