package ws

import (
	"context"
	"encoding/json"

	"github.com/miyako/questforge/game/event"
	"github.com/miyako/questforge/game/player"
	"github.com/miyako/questforge/game/progress"
	"github.com/miyako/questforge/game/quest"
	"go.uber.org/zap"
)

// EventHandlers wires the inbound game-event stream into the progress engine.
type EventHandlers struct {
	engine *quest.Engine
	reg    *quest.Registry
	logger *zap.Logger
}

// NewEventHandlers creates the game-event WS handlers.
func NewEventHandlers(engine *quest.Engine, reg *quest.Registry, logger *zap.Logger) *EventHandlers {
	return &EventHandlers{engine: engine, reg: reg, logger: logger}
}

// RegisterHandlers registers all message types on the router.
func (h *EventHandlers) RegisterHandlers(r *Router) {
	r.On("game_event", h.HandleGameEvent)
	r.On("player_state", h.HandlePlayerState)
}

// HandleGameEvent feeds one game event into the engine and pushes progress
// updates back to the client. The event's player identity is forced to the
// session's: a client cannot submit events on behalf of another player.
func (h *EventHandlers) HandleGameEvent(_ context.Context, s *player.PlayerSession, payload json.RawMessage) error {
	var ev event.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	ev.PlayerID = s.PlayerID

	res := h.engine.HandleEvent(s, ev)
	for _, qp := range res.Changed {
		h.sendUpdate(s, qp)
	}
	return nil
}

type playerStatePayload struct {
	Level int            `json:"level"`
	Gold  int64          `json:"gold"`
	Items map[string]int `json:"items"`
}

// HandlePlayerState refreshes the session's holdings view (level, currency,
// inventory counts) from the host game.
func (h *EventHandlers) HandlePlayerState(_ context.Context, s *player.PlayerSession, payload json.RawMessage) error {
	var st playerStatePayload
	if err := json.Unmarshal(payload, &st); err != nil {
		return err
	}
	if st.Level > 0 {
		s.SetLevel(st.Level)
	}
	if st.Gold >= 0 {
		s.SetGold(st.Gold)
	}
	for item, n := range st.Items {
		if held := s.CountItem(item); n > held {
			s.AddItem(item, n-held)
		} else if n < held {
			s.RemoveItem(item, held-n)
		}
	}
	return nil
}

type objectiveUpdate struct {
	ObjectiveID string `json:"objective_id"`
	Current     int    `json:"current"`
	Required    int    `json:"required"`
	Completed   bool   `json:"completed"`
}

type questUpdate struct {
	InstanceID string            `json:"instance_id"`
	QuestID    string            `json:"quest_id"`
	State      string            `json:"state"`
	Objectives []objectiveUpdate `json:"objectives"`
}

func (h *EventHandlers) sendUpdate(s *player.PlayerSession, qp *progress.QuestProgress) {
	upd := questUpdate{
		InstanceID: qp.InstanceID,
		QuestID:    qp.QuestID,
		State:      string(qp.State),
	}
	def, ok := h.reg.Definition(qp.QuestID)
	if ok {
		for _, o := range def.Objectives {
			if op, found := qp.Objectives[o.ID]; found {
				upd.Objectives = append(upd.Objectives, objectiveUpdate{
					ObjectiveID: op.ObjectiveID,
					Current:     op.Current,
					Required:    op.Required,
					Completed:   op.Completed,
				})
			}
		}
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		h.logger.Error("quest update encode failed",
			zap.String("player_id", s.PlayerID),
			zap.Error(err))
		return
	}
	s.Send(&player.Packet{Type: "quest_update", Payload: payload})
}
