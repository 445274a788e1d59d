package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mahaj/tutor-realtime/pkg/auth"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/mahaj/tutor-realtime/pkg/realtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// History serves stored conversations to the REST surface.
type History interface {
	ConversationMessages(ctx context.Context, a, b string, limit int) ([]model.Message, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	// ctx outlives individual requests; websocket frames are handled under it.
	ctx          context.Context
	hub          *realtime.Hub
	auth         *auth.Authenticator
	history      History
	log          *zap.Logger
	historyLimit int
	checks       map[string]HealthCheck
}

func NewServer(ctx context.Context, hub *realtime.Hub, authn *auth.Authenticator, history History, log *zap.Logger, historyLimit int) *Server {
	return &Server{
		ctx:          ctx,
		hub:          hub,
		auth:         authn,
		history:      history,
		log:          log,
		historyLimit: historyLimit,
		checks:       make(map[string]HealthCheck),
	}
}

func (s *Server) AddCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.health)
	r.Get("/ws", s.serveWs)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/presence", s.presenceList)
		r.Get("/presence/{userID}", s.presenceOf)
		r.Get("/conversations", s.conversations)
		r.Get("/conversations/{userID}/messages", s.conversationMessages)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type presenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func (s *Server) presenceOf(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, presenceResponse{UserID: userID, Online: s.hub.IsOnline(userID)})
}

// presenceList answers ?ids=a,b with a map of online flags, and no ids with
// the list of online users.
func (s *Server) presenceList(w http.ResponseWriter, r *http.Request) {
	ids := splitList(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		online := s.hub.ListOnline()
		if online == nil {
			online = []string{}
		}
		writeJSON(w, http.StatusOK, online)
		return
	}
	writeJSON(w, http.StatusOK, lo.SliceToMap(ids, func(id string) (string, bool) {
		return id, s.hub.IsOnline(id)
	}))
}

func (s *Server) conversations(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	conversations, err := s.history.ListConversations(r.Context(), identity.UserID)
	if err != nil {
		s.log.Error("failed to list conversations", zap.String("user_id", identity.UserID), zap.Error(err))
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// conversationMessages returns the history with userID. Fetching a thread is a
// read signal: everything userID sent the caller is marked read.
func (s *Server) conversationMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	other := chi.URLParam(r, "userID")
	if other == identity.UserID {
		http.Error(w, "Cannot open a conversation with yourself", http.StatusBadRequest)
		return
	}
	if strings.Contains(other, ":") {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, s.historyLimit)
	}

	messages, err := s.history.ConversationMessages(r.Context(), identity.UserID, other, limit)
	if err != nil {
		s.log.Error("failed to load conversation",
			zap.String("user_id", identity.UserID),
			zap.String("counterpart_id", other),
			zap.Error(err),
		)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	read, readAt, err := s.hub.MarkRead(r.Context(), identity.UserID, other)
	if err != nil {
		s.log.Warn("failed to mark conversation read",
			zap.String("user_id", identity.UserID),
			zap.String("counterpart_id", other),
			zap.Error(err),
		)
	}
	flipped := lo.SliceToMap(read, func(id model.MessageID) (model.MessageID, bool) { return id, true })
	for i := range messages {
		if flipped[messages[i].ID] {
			messages[i].IsRead = true
			messages[i].ReadAt = &readAt
		}
	}

	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type checkResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status      string                 `json:"status"`
	OnlineUsers int                    `json:"onlineUsers"`
	Checks      map[string]checkResult `json:"checks"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", OnlineUsers: len(s.hub.ListOnline()), Checks: map[string]checkResult{}}
	for name, check := range s.checks {
		start := time.Now()
		if err := check(ctx); err != nil {
			resp.Checks[name] = checkResult{Status: "fail", Message: err.Error()}
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = checkResult{Status: "pass", Latency: time.Since(start).String()}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
