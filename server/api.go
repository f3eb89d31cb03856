package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/globalsign/mgo"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/zyla1588-ctrl/BilliardsScoreCounter/model"
)

type Server struct {
	db *mgo.Session
	httpServer *http.Server
	config *Config
	gateway *MongoGateway
	leaderboard *Leaderboard
	notification *Notification
	stats *Stats
	logger *Logger
}

func (s *Server) Stop() {
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.Errorw("Couldn't shutdown http server", "error", err)
	}
}

func StartServer(sessionHolder *SessionHolder, registry *RoomRegistry, pipeline *Pipeline, gateway *MongoGateway, leaderboard *Leaderboard, notification *Notification, stats *Stats, config *Config, db *mgo.Session, logger *Logger) *Server {

	s := &Server{
		db: db,
		config: config,
		gateway: gateway,
		leaderboard: leaderboard,
		notification: notification,
		stats: stats,
		logger: logger,
	}

	router := mux.NewRouter()
	// Special case routes. Do NOT enable compression on WebSocket route, it results in "http: response.Write on hijacked connection" errors.
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }).Methods("GET")
	router.HandleFunc("/ws", NewSocketAcceptor(sessionHolder, config, registry, pipeline, stats, logger)).Methods("GET")
	router.Handle("/metrics", stats.Handler()).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/guest", s.authenticateGuest).Methods("POST")
	v1.HandleFunc("/account", s.authenticated(s.getAccount)).Methods("GET")
	v1.HandleFunc("/rooms", s.authenticated(s.createRoom)).Methods("POST")
	v1.HandleFunc("/rooms/{code}", s.authenticated(s.getRoom)).Methods("GET")
	v1.HandleFunc("/rooms/{code}/join", s.authenticated(s.joinRoom)).Methods("POST")
	v1.HandleFunc("/rooms/{code}/leave", s.authenticated(s.leaveRoom)).Methods("POST")
	v1.HandleFunc("/rooms/{code}/start", s.authenticated(s.startRoom)).Methods("POST")
	v1.HandleFunc("/rooms/{code}/end", s.authenticated(s.endRoom)).Methods("POST")
	v1.HandleFunc("/games/{code}/scores", s.authenticated(s.addScore)).Methods("POST")
	v1.HandleFunc("/games/{code}/scores", s.authenticated(s.getScores)).Methods("GET")
	v1.HandleFunc("/games/{code}/logs", s.authenticated(s.getScoreLogs)).Methods("GET")
	v1.HandleFunc("/leaderboard", s.authenticated(s.getLeaderboard)).Methods("GET")
	v1.HandleFunc("/notifications/token", s.authenticated(s.registerNotificationToken)).Methods("POST")

	// Enable CORS on all requests.
	CORSHeaders := handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "User-Agent"})
	CORSOrigins := handlers.AllowedOrigins([]string{"*"})
	CORSMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE"})
	handlerWithCORS := handlers.CORS(CORSHeaders, CORSOrigins, CORSMethods)(s.countRequests(router))

	s.httpServer = &http.Server{
		MaxHeaderBytes: 5120,
		Handler:        handlerWithCORS,
	}

	logger.Infof("Starting server for HTTP requests on port %d", config.Port)
	go func(){
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
		if err != nil {
			logger.Fatalw("Error while creating listener for http server", "error", err)
		}
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("Error while serving http server", "error", err)
		}
	}()

	return s

}

func (s *Server) countRequests(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" && r.URL.Path != "/metrics" {
			s.stats.IncrRequest()
		}
		h.ServeHTTP(w, r)
	}
}

//authenticated wraps a handler with bearer-token resolution. The resolved
//user ID is passed through, unauthenticated requests never reach the
//handler.
func (s *Server) authenticated(h func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, _, ok := parseBearerAuth([]byte(s.config.AuthConfig.JWTSecret), r.Header.Get("Authorization"))
		if !ok {
			s.writeError(w, http.StatusUnauthorized, errors.New("auth token invalid"))
			return
		}
		h(w, r, userID)
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "malformed request body"))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("Could not encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case ErrRoomNotFound, ErrUserNotFound:
		s.writeError(w, http.StatusNotFound, err)
	case ErrNotRoomCreator:
		s.writeError(w, http.StatusForbidden, err)
	case ErrRoomNameEmpty, ErrRoomSizeInvalid, ErrRoomNotJoinable, ErrRoomFull,
		ErrAlreadyInRoom, ErrNotEnoughPlayers, ErrNotAMember, ErrInvalidTransition:
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.logger.Errorw("Request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

type playerResponse struct {
	UserID string `json:"userId"`
	Username string `json:"username"`
	Score int `json:"score"`
}

type roomResponse struct {
	Room *model.Room `json:"room"`
	Players []playerResponse `json:"players"`
}

func (s *Server) roomResponse(room *model.Room, players []model.RoomPlayer) *roomResponse {
	resp := &roomResponse{
		Room: room,
		Players: make([]playerResponse, 0, len(players)),
	}
	for _, player := range players {
		username := ""
		if user, err := s.gateway.User(player.UserID.Hex()); err == nil {
			username = user.DisplayName
		}
		resp.Players = append(resp.Players, playerResponse{
			UserID: player.UserID.Hex(),
			Username: username,
			Score: player.Score,
		})
	}
	return resp
}

func (s *Server) authenticateGuest(w http.ResponseWriter, r *http.Request) {

	var body struct {
		Fingerprint string `json:"fingerprint"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	user, err := AuthenticateFingerprint(body.Fingerprint, s.db, s.config)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, exp := generateToken(user.Id.Hex(), user.Username, s.config)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"expiry": exp,
		"user": user,
	})

}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request, userID string) {

	user, err := s.gateway.User(userID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, user)

}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request, userID string) {

	var body struct {
		Name string `json:"name"`
		MaxPlayers int `json:"maxPlayers"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	room, err := s.gateway.CreateRoom(body.Name, body.MaxPlayers, userID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	_, players, err := s.gateway.FetchRoom(room.Code)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.roomResponse(room, players))

}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	room, players, err := s.gateway.FetchRoom(code)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.roomResponse(room, players))

}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	if _, err := s.gateway.JoinRoom(code, userID); err != nil {
		s.writeGatewayError(w, err)
		return
	}

	room, players, err := s.gateway.FetchRoom(code)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.roomResponse(room, players))

}

func (s *Server) leaveRoom(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	if err := s.gateway.LeaveRoom(code, userID); err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "left the room"})

}

func (s *Server) startRoom(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	if err := s.gateway.StartRoom(code, userID); err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "game started"})

}

func (s *Server) endRoom(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	ranking, err := s.gateway.EndRoom(code, userID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	resp := make([]playerResponse, 0, len(ranking))
	for _, player := range ranking {
		username := ""
		if user, err := s.gateway.User(player.UserID.Hex()); err == nil {
			username = user.DisplayName
		}
		resp = append(resp, playerResponse{
			UserID: player.UserID.Hex(),
			Username: username,
			Score: player.Score,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ranking": resp})

}

func (s *Server) addScore(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	var body struct {
		TargetUserID string `json:"targetUserId"`
		Points int `json:"points"`
		Action string `json:"action"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	if err := s.gateway.RecordScoreDelta(code, userID, body.TargetUserID, body.Points, body.Action); err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "score recorded"})

}

func (s *Server) getScores(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	_, players, err := s.gateway.FetchRoom(code)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	resp := make([]playerResponse, 0, len(players))
	for _, player := range players {
		username := ""
		if user, err := s.gateway.User(player.UserID.Hex()); err == nil {
			username = user.DisplayName
		}
		resp = append(resp, playerResponse{
			UserID: player.UserID.Hex(),
			Username: username,
			Score: player.Score,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"players": resp})

}

func (s *Server) getScoreLogs(w http.ResponseWriter, r *http.Request, userID string) {

	code := mux.Vars(r)["code"]

	logs, err := s.gateway.ScoreLogs(code)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})

}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request, userID string) {

	page := 0
	itemPerPage := 20

	if reqPage, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page = reqPage
	}

	scores, err := s.leaderboard.GetScores(r.URL.Query().Get("type"), page, itemPerPage)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	type leaderboardItem struct {
		User *model.User `json:"user"`
		Score int64 `json:"score"`
	}

	items := make([]leaderboardItem, 0, len(scores))
	for _, score := range scores {
		user, err := s.gateway.User(score.UserID.Hex())
		if err != nil {
			s.logger.Warnw("Leaderboard entry references unknown user", "userID", score.UserID.Hex())
			continue
		}
		items = append(items, leaderboardItem{
			User: user,
			Score: score.Score,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"page": page,
		"hasNextPage": len(scores) == itemPerPage,
		"items": items,
		"itemCount": len(items),
	})

}

func (s *Server) registerNotificationToken(w http.ResponseWriter, r *http.Request, userID string) {

	var body struct {
		Token string `json:"token"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	if body.Token == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("token couldn't be empty"))
		return
	}

	if err := s.notification.RegisterToken(userID, body.Token); err != nil {
		s.writeGatewayError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "token registered"})

}
