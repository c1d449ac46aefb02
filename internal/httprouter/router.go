// Package httprouter implements the JSON-over-HTTP router described in
// §4.1: URL grammar, verb/scope coupling, the dispatch-order error
// checks, CORS, and the long-poll GET responder, built on
// github.com/gin-gonic/gin the same way the teacher server's HTTP layer
// is.
package httprouter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/streamspace-dev/confrelay/internal/gateway"
	"github.com/streamspace-dev/confrelay/internal/gwerrors"
	"github.com/streamspace-dev/confrelay/internal/metrics"
	"github.com/streamspace-dev/confrelay/internal/session"
)

// longPollTimeout is the bounded wait ceiling called for in §4.5.
const longPollTimeout = 30 * time.Second

// Router wraps a *gin.Engine configured for the gateway's URL grammar.
type Router struct {
	engine *gin.Engine
	gw     *gateway.Gateway
	base   string
	log    zerolog.Logger
	metr   *metrics.Metrics
}

// New builds a Router mounted at base (e.g. "/janus") over gw.
func New(gw *gateway.Gateway, base string, m *metrics.Metrics, log zerolog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	// Without this, gin never reaches NoMethod for a verb mismatch on a
	// known path; it falls through to NoRoute (404) instead, masking the
	// 501 dispatch-order item 1 calls for.
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery())

	r := &Router{engine: engine, gw: gw, base: base, log: log.With().Str("component", "router").Logger(), metr: m}
	r.routes()
	return r
}

// Handler returns the http.Handler to pass to an http.Server.
func (r *Router) Handler() http.Handler { return r.engine }

func (r *Router) routes() {
	r.engine.NoRoute(r.notFound)
	r.engine.NoMethod(func(c *gin.Context) {
		r.applyCORS(c)
		c.Status(http.StatusNotImplemented)
	})

	group := r.engine.Group(r.base)
	group.Use(r.cors())
	group.OPTIONS("", r.preflight)
	group.OPTIONS("/:session", r.preflight)
	group.OPTIONS("/:session/:handle", r.preflight)

	group.POST("", r.dispatch)
	group.POST("/:session", r.dispatch)
	group.POST("/:session/:handle", r.dispatch)

	group.GET("/:session", r.longPoll)
	group.GET("/:session/:handle", func(c *gin.Context) {
		// §4.1: a GET on a handle URL redirects to the session URL.
		c.Redirect(http.StatusFound, r.base+"/"+c.Param("session"))
	})

	r.engine.GET("/healthz", r.healthz)
	r.engine.GET("/metrics", r.metricsHandler())
}

func (r *Router) notFound(c *gin.Context) {
	r.applyCORS(c)
	c.Status(http.StatusNotFound)
}

func (r *Router) preflight(c *gin.Context) {
	r.applyCORS(c)
	c.Status(http.StatusNoContent)
}

// cors is gin middleware applying the Access-Control-Allow-Origin: * rule
// to every response under base, matching §4.1.
func (r *Router) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		r.applyCORS(c)
		c.Next()
	}
}

func (r *Router) applyCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	if m := c.GetHeader("Access-Control-Request-Method"); m != "" {
		c.Header("Access-Control-Allow-Methods", m)
	}
	if h := c.GetHeader("Access-Control-Request-Headers"); h != "" {
		c.Header("Access-Control-Allow-Headers", h)
	}
}

// envelope is the minimal POST body shape every request must satisfy.
type envelope struct {
	Janus       string          `json:"janus"`
	Transaction string          `json:"transaction"`
	Plugin      string          `json:"plugin"`
	Body        json.RawMessage `json:"body"`
	JSEP        json.RawMessage `json:"jsep"`
}

// pathScope identifies which of the three URL grammar scopes a request
// targets.
type pathScope int

const (
	scopeNone pathScope = iota
	scopeSession
	scopeHandle
)

func (r *Router) dispatch(c *gin.Context) {
	sessionIDStr := c.Param("session")
	handleIDStr := c.Param("handle")

	scope := scopeNone
	var sessionID, handleID uint64
	var err error
	if sessionIDStr != "" {
		scope = scopeSession
		sessionID, err = parseID(sessionIDStr)
		if err != nil {
			r.writeError(c, http.StatusOK, "", gwerrors.New(gwerrors.InvalidRequestPath, "malformed session id"))
			return
		}
	}
	if handleIDStr != "" {
		scope = scopeHandle
		handleID, err = parseID(handleIDStr)
		if err != nil {
			r.writeError(c, http.StatusOK, "", gwerrors.New(gwerrors.InvalidRequestPath, "malformed handle id"))
			return
		}
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if len(raw) == 0 {
		r.writeError(c, http.StatusOK, "", gwerrors.New(gwerrors.MissingRequest, "empty request body"))
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.writeError(c, http.StatusOK, "", gwerrors.New(gwerrors.InvalidJSON, "malformed JSON body: %v", err))
		return
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err == nil {
		if _, ok := probe.(map[string]any); !ok {
			r.writeError(c, http.StatusOK, "", gwerrors.New(gwerrors.InvalidJSONObject, "request body is not a JSON object"))
			return
		}
	}

	if env.Transaction == "" || env.Janus == "" {
		r.writeError(c, http.StatusOK, "", gwerrors.New(gwerrors.MissingMandatoryElement, "missing transaction or janus field"))
		return
	}

	switch env.Janus {
	case "create":
		if scope != scopeNone {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.InvalidRequestPath, "create must be session-less"))
			return
		}
		r.handleCreate(c, env)
	case "attach":
		if scope != scopeSession {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.InvalidRequestPath, "attach must target a session"))
			return
		}
		if env.Plugin == "" {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.MissingMandatoryElement, "attach requires a plugin field"))
			return
		}
		r.handleAttach(c, env, sessionID)
	case "destroy":
		if scope != scopeSession {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.InvalidRequestPath, "destroy must target a session"))
			return
		}
		r.handleDestroy(c, env, sessionID)
	case "detach":
		if scope != scopeHandle {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.InvalidRequestPath, "detach must target a handle"))
			return
		}
		r.handleDetach(c, env, sessionID, handleID)
	case "message":
		if scope != scopeHandle {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.InvalidRequestPath, "message must target a handle"))
			return
		}
		if env.Body == nil {
			r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.MissingMandatoryElement, "message requires a body object"))
			return
		}
		r.handleMessage(c, env, sessionID, handleID)
	default:
		r.writeError(c, http.StatusOK, env.Transaction, gwerrors.New(gwerrors.UnknownRequest, "unrecognized janus verb %q", env.Janus))
	}
}

func (r *Router) lookupSession(c *gin.Context, transaction string, id uint64) (*session.Session, bool) {
	s, ok := r.gw.Sessions.Get(id)
	if !ok {
		r.writeError(c, http.StatusOK, transaction, gwerrors.New(gwerrors.SessionNotFound, "no such session %d", id))
		return nil, false
	}
	return s, true
}

func (r *Router) lookupHandle(c *gin.Context, transaction string, s *session.Session, id uint64) (*session.Handle, bool) {
	h, ok := s.Handle(id)
	if !ok {
		r.writeError(c, http.StatusOK, transaction, gwerrors.New(gwerrors.HandleNotFound, "no such handle %d", id))
		return nil, false
	}
	return h, true
}

func (r *Router) handleCreate(c *gin.Context, env envelope) {
	s, err := r.gw.Create()
	if err != nil {
		r.writeError(c, http.StatusOK, env.Transaction, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"janus":       "success",
		"transaction": env.Transaction,
		"data":        gin.H{"id": s.ID},
	})
}

func (r *Router) handleAttach(c *gin.Context, env envelope, sessionID uint64) {
	s, ok := r.lookupSession(c, env.Transaction, sessionID)
	if !ok {
		return
	}
	h, err := r.gw.Attach(s, env.Plugin)
	if err != nil {
		r.writeError(c, http.StatusOK, env.Transaction, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"janus":       "success",
		"transaction": env.Transaction,
		"data":        gin.H{"id": h.ID},
	})
}

func (r *Router) handleDestroy(c *gin.Context, env envelope, sessionID uint64) {
	s, ok := r.lookupSession(c, env.Transaction, sessionID)
	if !ok {
		return
	}
	r.gw.Destroy(s)
	c.JSON(http.StatusOK, gin.H{"janus": "success", "transaction": env.Transaction})
}

func (r *Router) handleDetach(c *gin.Context, env envelope, sessionID, handleID uint64) {
	s, ok := r.lookupSession(c, env.Transaction, sessionID)
	if !ok {
		return
	}
	h, ok := r.lookupHandle(c, env.Transaction, s, handleID)
	if !ok {
		return
	}
	if err := r.gw.Detach(h); err != nil {
		r.writeError(c, http.StatusOK, env.Transaction, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"janus": "ack", "transaction": env.Transaction})
}

func (r *Router) handleMessage(c *gin.Context, env envelope, sessionID, handleID uint64) {
	s, ok := r.lookupSession(c, env.Transaction, sessionID)
	if !ok {
		return
	}
	h, ok := r.lookupHandle(c, env.Transaction, s, handleID)
	if !ok {
		return
	}
	if err := r.gw.Message(c.Request.Context(), h, env.Transaction, env.Body, env.JSEP); err != nil {
		r.writeError(c, http.StatusOK, env.Transaction, err)
		return
	}
	// An ack may be returned before the plugin has processed the message;
	// the real result follows later as an event bearing the same
	// transaction, per §5's ordering guarantee.
	c.JSON(http.StatusOK, gin.H{"janus": "ack", "transaction": env.Transaction})
}

func (r *Router) longPoll(c *gin.Context) {
	sessionID, err := parseID(c.Param("session"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	s, ok := r.gw.Sessions.Get(sessionID)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), longPollTimeout)
	defer cancel()

	ev := s.Events.Wait(ctx, r.gw.ShutdownChan())
	if r.metr != nil {
		outcome := "event"
		if ev.Payload == "" {
			outcome = "timeout"
		}
		r.metr.LongPollTotal.WithLabelValues(outcome).Inc()
	}
	c.Data(http.StatusOK, "application/json", []byte(ev.Payload))
}

func (r *Router) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) metricsHandler() gin.HandlerFunc {
	h := MetricsHandler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

func (r *Router) writeError(c *gin.Context, status int, transaction string, err error) {
	ge, ok := gwerrors.As(err)
	if !ok {
		ge = gwerrors.New(gwerrors.Unknown, "%v", err)
	}
	body := gin.H{
		"janus": "error",
		"error": gin.H{"code": int(ge.Code), "reason": ge.Reason},
	}
	if transaction != "" {
		body["transaction"] = transaction
	}
	c.JSON(status, body)
}

func parseID(s string) (uint64, error) {
	if s == "" || strings.ContainsAny(s, "+-") {
		return 0, strconv.ErrSyntax
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id < 1 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
