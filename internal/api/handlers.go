package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/subscription"
)

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	s.deps.Health.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleRegister(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, model.Validationf("invalid JSON body: %v", err))
		return
	}
	cond, status, err := s.deps.Registry.Register(c.Request.Context(), body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	code := http.StatusOK
	if status == registry.StatusRegistered {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"condition_id": cond.ID, "status": status, "condition": cond})
}

func (s *Server) handleStatus(c *gin.Context) {
	cond, n, err := s.deps.Registry.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"condition": cond, "subscriber_count": n})
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.deps.Registry.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCreatePlaybook(c *gin.Context) {
	var in registry.PlaybookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.writeError(c, model.Validationf("invalid JSON body: %v", err))
		return
	}
	p, err := s.deps.Registry.CreatePlaybook(c.Request.Context(), userID(c), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"playbook_id": p.ID, "condition_ids": p.ConditionIDs(), "playbook": p})
}

func (s *Server) handleGetPlaybook(c *gin.Context) {
	id := c.Param("id")
	p, err := s.deps.Registry.GetPlaybook(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	// other users' playbooks are reported as missing
	if p.OwnerID != userID(c) {
		s.writeError(c, model.NotFound("playbook", id))
		return
	}
	c.JSON(http.StatusOK, p)
}

type subscribeBody struct {
	ConsumerType model.ConsumerType `json:"consumer_type"`
	ConsumerID   string             `json:"consumer_id"`
	ConditionID  string             `json:"condition_id"`
	PlaybookID   string             `json:"playbook_id"`
	Action       model.Action       `json:"action"`
	FireMode     model.FireMode     `json:"fire_mode"`
}

func (b subscribeBody) target() (model.Target, error) {
	switch {
	case b.ConditionID != "" && b.PlaybookID != "":
		return model.Target{}, model.Validationf("set condition_id or playbook_id, not both")
	case b.ConditionID != "":
		return model.Target{Kind: model.TargetCondition, ID: b.ConditionID}, nil
	case b.PlaybookID != "":
		return model.Target{Kind: model.TargetPlaybook, ID: b.PlaybookID}, nil
	}
	return model.Target{}, model.Validationf("condition_id or playbook_id is required")
}

func (s *Server) handleSubscribe(c *gin.Context) {
	var body subscribeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, model.Validationf("invalid JSON body: %v", err))
		return
	}
	target, err := body.target()
	if err != nil {
		s.writeError(c, err)
		return
	}
	sub, existing, err := s.deps.Subscriptions.Subscribe(c.Request.Context(), subscription.Request{
		Consumer: model.Consumer{Type: body.ConsumerType, ID: body.ConsumerID, UserID: userID(c)},
		Target:   target,
		Action:   body.Action,
		FireMode: body.FireMode,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	status, code := "created", http.StatusCreated
	if existing {
		status, code = "existing", http.StatusOK
	}
	c.JSON(code, gin.H{"subscription_id": sub.ID, "status": status, "subscription": sub})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	if err := s.deps.Subscriptions.Unsubscribe(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription_id": c.Param("id"), "status": model.StatusCancelled})
}

func (s *Server) handleUserSubscriptions(c *gin.Context) {
	subs, err := s.deps.Subscriptions.ListForUser(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (s *Server) handleUserTriggers(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(c, model.Validationf("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	entries, err := s.deps.Triggers.ListTriggers(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []model.TriggerLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"triggers": entries})
}

func (s *Server) handleStopConsumer(c *gin.Context) {
	n, err := s.deps.Subscriptions.StopConsumer(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consumer_id": c.Param("id"), "deactivated": n})
}

func (s *Server) handleStream(c *gin.Context) {
	if s.deps.Stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger stream disabled"})
		return
	}
	uid, err := s.deps.Auth.Validate(c.Query("token"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	var last int64
	if v := c.Query("last_seq"); v != "" {
		if last, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.writeError(c, model.Validationf("bad last_seq %q", v))
			return
		}
	}
	if err := s.deps.Stream.ServeWS(c.Writer, c.Request, uid, last); err != nil {
		s.log.Warn("websocket upgrade failed", "error", fmt.Sprint(err))
	}
}
