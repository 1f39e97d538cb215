package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server holds the collector's handlers. Routes are split into two engines:
//   - Data plane (port 5000): unauthenticated; receives agent records on /log_activity.
//   - Control plane (port 6677): JWT-protected operator API plus the dashboard UI.
type Server struct {
	store    *Store
	ingestor *Ingestor
	alerts   *AlertEvaluator
	auth     *Auth
	log      zerolog.Logger
}

// New wires the handlers.
func New(store *Store, ingestor *Ingestor, alerts *AlertEvaluator, auth *Auth, log zerolog.Logger) *Server {
	return &Server{store: store, ingestor: ingestor, alerts: alerts, auth: auth, log: log}
}

// DataEngine builds the agent-facing engine.
func (s *Server) DataEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.log.With().Str("plane", "data").Logger()))
	s.RegisterDataRoutes(r)
	return r
}

// ControlEngine builds the operator-facing engine, UI included.
func (s *Server) ControlEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.log.With().Str("plane", "control").Logger()), CORS())
	s.RegisterControlRoutes(r)
	RegisterStaticFiles(r)
	return r
}

// RegisterDataRoutes wires the ingestion route.
func (s *Server) RegisterDataRoutes(r *gin.Engine) {
	r.POST("/log_activity", s.handleLogActivity)

	// no auth; used by load-balancers and service probes
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// RegisterControlRoutes wires the operator API.
//
//	Public:   POST /api/login, GET /api/health
//	Protected (JWT): everything else under /api
func (s *Server) RegisterControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/login", s.handleLogin)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	auth := api.Group("/", s.auth.Middleware())
	{
		auth.GET("/dashboard", s.handleDashboard)
		auth.GET("/alerts", s.handleAlerts)

		auth.GET("/groups", s.handleListGroups)
		auth.POST("/groups/create", s.handleCreateGroup)
		auth.POST("/computers/:netbios_name/assign_group", s.handleAssignGroup)
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "message": msg})
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogActivity ingests one agent record.
//
//	POST /log_activity
func (s *Server) handleLogActivity(c *gin.Context) {
	var env Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		fail(c, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	res := s.ingestor.Ingest(c.Request.Context(), env)
	if res.Status == Accepted {
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": res.Message})
		return
	}
	fail(c, res.HTTPStatus(), res.Message)
}

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "..." }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "username and password required")
		return
	}

	token, err := s.auth.Login(body.Username, body.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

// handleDashboard returns endpoints and alerts from a single read.
func (s *Server) handleDashboard(c *gin.Context) {
	snap, err := s.alerts.Snapshot(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("building dashboard")
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleAlerts(c *gin.Context) {
	snap, err := s.alerts.Snapshot(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("evaluating alerts")
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": snap.Alerts})
}

func (s *Server) handleListGroups(c *gin.Context) {
	groups, err := s.store.Groups(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("listing groups")
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}
	out := make([]gin.H, 0, len(groups))
	for _, g := range groups {
		desc := ""
		if g.Description != nil {
			desc = *g.Description
		}
		out = append(out, gin.H{"id": g.ID, "name": g.Name, "description": desc})
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

// handleCreateGroup creates a named group.
//
//	POST /api/groups/create
//	Body: { "name": "Accounting", "description": "2nd floor" }
func (s *Server) handleCreateGroup(c *gin.Context) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		fail(c, http.StatusBadRequest, "Group name is required and cannot be empty.")
		return
	}
	name := strings.TrimSpace(body.Name)
	var desc *string
	if d := strings.TrimSpace(body.Description); d != "" {
		desc = &d
	}

	g, err := s.store.CreateGroup(c.Request.Context(), name, desc)
	if errors.Is(err, ErrGroupExists) {
		fail(c, http.StatusConflict, "Group name '"+name+"' already exists.")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("group", name).Msg("creating group")
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":     "success",
		"message":    "Group created successfully",
		"group_name": g.Name,
		"group_id":   g.ID,
	})
}

// handleAssignGroup sets or clears a computer's group by group_id or
// group_name; a null value unassigns.
//
//	POST /api/computers/:netbios_name/assign_group
func (s *Server) handleAssignGroup(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("netbios_name")

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil || body == nil {
		fail(c, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	rawID, hasID := body["group_id"]
	rawName, hasName := body["group_name"]
	if !hasID && !hasName {
		fail(c, http.StatusBadRequest, "Either 'group_id' or 'group_name' must be provided.")
		return
	}

	if _, err := s.store.EndpointByName(ctx, name); errors.Is(err, ErrNotFound) {
		fail(c, http.StatusNotFound, "Computer with NetBIOS name '"+name+"' not found.")
		return
	} else if err != nil {
		s.log.Error().Err(err).Msg("looking up computer")
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}

	var target *uint
	switch {
	case hasID:
		id, isNull, ok := parseGroupID(rawID)
		if !ok {
			fail(c, http.StatusBadRequest, "'group_id' must be a positive integer or null.")
			return
		}
		if !isNull {
			if _, err := s.store.GroupByID(ctx, id); errors.Is(err, ErrNotFound) {
				fail(c, http.StatusBadRequest, "Invalid 'group_id': The specified group does not exist.")
				return
			} else if err != nil {
				fail(c, http.StatusInternalServerError, "Database error")
				return
			}
			target = &id
		}
	default:
		var groupName *string
		if err := json.Unmarshal(rawName, &groupName); err != nil {
			fail(c, http.StatusBadRequest, "'group_name' must be a string or null.")
			return
		}
		if groupName != nil && strings.TrimSpace(*groupName) != "" {
			gn := strings.TrimSpace(*groupName)
			g, err := s.store.GroupByName(ctx, gn)
			if errors.Is(err, ErrNotFound) {
				fail(c, http.StatusNotFound, "Group with name '"+gn+"' not found.")
				return
			} else if err != nil {
				fail(c, http.StatusInternalServerError, "Database error")
				return
			}
			target = &g.ID
		}
	}

	if err := s.store.AssignGroup(ctx, name, target); err != nil {
		s.log.Error().Err(err).Str("computer", name).Msg("assigning group")
		fail(c, http.StatusInternalServerError, "Database error")
		return
	}
	action := "unassigned from group"
	if target != nil {
		action = "assigned to group"
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Computer '" + name + "' " + action + " successfully."})
}

// parseGroupID accepts a JSON number, a numeric string or null.
func parseGroupID(raw json.RawMessage) (id uint, isNull bool, ok bool) {
	if strings.TrimSpace(string(raw)) == "null" {
		return 0, true, true
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, false
		}
		if n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
			return 0, false, false
		}
	}
	if n <= 0 {
		return 0, false, false
	}
	return uint(n), false, true
}
