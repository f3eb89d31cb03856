package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

func NewSocketAcceptor(sessionHolder *SessionHolder, config *Config, registry *RoomRegistry, pipeline *Pipeline, stats *Stats, logger *Logger) func(http.ResponseWriter, *http.Request) {
	upgrader := &websocket.Upgrader{
		ReadBufferSize: 4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {

		//A connection without a valid token is still upgraded, but stays
		//anonymous. Every room operation that needs an identity will then be
		//rejected deterministically instead of running with a null user.
		userID := ""
		username := ""
		var expiry int64

		if token := r.URL.Query().Get("token"); token != "" {
			if uid, usn, exp, ok := parseToken([]byte(config.AuthConfig.JWTSecret), token); ok {
				userID = uid
				username = usn
				expiry = exp
			} else {
				logger.Infow("Socket connection carried an invalid token, continuing as anonymous")
			}
		}

		clientAddr := ""
		clientIP := ""
		clientPort := ""
		if ips := r.Header.Get("x-forwarded-for"); len(ips) > 0 {
			clientAddr = strings.Split(ips, ",")[0]
		} else {
			clientAddr = r.RemoteAddr
		}

		clientAddr = strings.TrimSpace(clientAddr)
		if host, port, err := net.SplitHostPort(clientAddr); err == nil {
			clientIP = host
			clientPort = port
		} else if addrErr, ok := err.(*net.AddrError); ok && addrErr.Err == "missing port in address" {
			clientIP = clientAddr
		} else {
			logger.Warnw("Could not extract client address from request.", "error", errors.WithStack(err))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Errorw("Websocket upgrade was failed", "error", errors.WithStack(err))
			return
		}

		s := NewSession(userID, username, expiry, clientIP, clientPort, conn, config, sessionHolder, registry, stats, logger)

		logger.Infow("New socket connection was established", "id", s.ID().String(), "userID", userID)

		sessionHolder.add(s)

		//Incoming requests will be handled in sessions Consume method and will be passed to pipeline to run logic part of the each request
		s.Consume(pipeline.handleSocketRequests)

	}
}
