package server

type Pipeline struct {
	config *Config
	registry *RoomRegistry
	logger *Logger
}

func NewPipeline(config *Config, registry *RoomRegistry, logger *Logger) *Pipeline {
	return &Pipeline{
		config: config,
		registry: registry,
		logger: logger,
	}
}

//handleSocketRequests decodes one inbound frame and dispatches it to the
//room registry. Failures are reported to the originating session only,
//never broadcast. The return value tells the session's read loop whether
//to keep consuming.
func (p *Pipeline) handleSocketRequests(session Session, data []byte) bool {

	event, err := DecodeEvent(data)
	if err != nil {
		// If we reached this point the frame was readable but the contents are missing or unknown.
		// Usually caused by a version mismatch, and should cause the session making this pipeline request to close.
		p.logger.Warnw("Unrecognizable payload received", "sessionID", session.ID().String(), "error", err)
		_ = session.Send(NewErrorEvent(errorCodeUnrecognizedPayload, "Unrecognized message."))
		return false
	}

	switch event := event.(type) {
	case *JoinRoomEvent:
		err = p.registry.Join(session, event.RoomCode)
	case *LeaveRoomEvent:
		err = p.registry.Leave(session, event.RoomCode)
	case *StartGameEvent:
		err = p.registry.StartGame(session, event.RoomCode)
	case *UpdateScoreEvent:
		err = p.registry.UpdateScore(session, event.RoomCode, event.TargetUserID, event.Points, event.Action)
	case *EndGameEvent:
		err = p.registry.EndGame(session, event.RoomCode, event.Scores)
	}

	if err != nil {
		p.logger.Infow("Room operation was rejected", "sessionID", session.ID().String(), "userID", session.UserID(), "error", err)
		_ = session.Send(errorEventFor(err))
	}

	return true

}
