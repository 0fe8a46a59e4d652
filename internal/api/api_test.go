package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/registry"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/store/memory"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/subscription"
)

type fixture struct {
	srv      *Server
	auth     *Auth
	triggers *memory.TriggerLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cat := memory.NewCatalog()
	f := &fixture{auth: NewAuth("test-secret", ""), triggers: memory.NewTriggerLog()}
	f.srv = NewServer(Config{Addr: ":0"}, Deps{
		Registry:      registry.New(cat, nil),
		Subscriptions: subscription.New(cat, nil),
		Triggers:      f.triggers,
		Auth:          f.auth,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := f.auth.Issue(user, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

var rsiBody = map[string]any{
	"type": "indicator", "indicator": "RSI", "symbol": "BTCUSDT",
	"timeframe": "1h", "operator": "lt", "value": 30,
}

func (f *fixture) register(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/conditions/register", "", rsiBody)
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	return decode(t, w)["condition_id"].(string)
}

func TestRegister_SameIDTwice(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/conditions/register", "", rsiBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("first register: %d %s", w.Code, w.Body.String())
	}
	first := decode(t, w)
	if first["status"] != "registered" {
		t.Errorf("status = %v", first["status"])
	}

	w = f.do(t, http.MethodPost, "/api/v1/conditions/register", "", rsiBody)
	if w.Code != http.StatusOK {
		t.Fatalf("second register: %d", w.Code)
	}
	second := decode(t, w)
	if second["status"] != "existing" || second["condition_id"] != first["condition_id"] {
		t.Errorf("second = %v, want existing %v", second, first["condition_id"])
	}
}

func TestRegister_BadBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/conditions/register", "", map[string]any{"symbol": "BTCUSDT"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/api/v1/conditions/cond_missing/status", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown condition: %d, want 404", w.Code)
	}

	id := f.register(t)
	w := f.do(t, http.MethodGet, "/api/v1/conditions/"+id+"/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if n := decode(t, w)["subscriber_count"]; n != float64(0) {
		t.Errorf("subscriber_count = %v, want 0", n)
	}

	w = f.do(t, http.MethodGet, "/api/v1/conditions/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("stats: %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/api/v1/user/subscriptions", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, NewAuth("other-secret", ""), "user_1"))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("foreign token: %d, want 401", w.Code)
	}
}

func mustIssue(t *testing.T, a *Auth, user string) string {
	t.Helper()
	tok, err := a.Issue(user, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestSubscribeLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)
	body := map[string]any{
		"consumer_type": "bot", "consumer_id": "bot_1", "condition_id": id,
		"action": map[string]any{"type": "bot_trigger", "bot_action": "execute_entry"}, "fire_mode": "per_bar",
	}

	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", "user_1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	if created["status"] != "created" {
		t.Errorf("status = %v, want created", created["status"])
	}

	w = f.do(t, http.MethodPost, "/api/v1/subscriptions", "user_1", body)
	again := decode(t, w)
	if w.Code != http.StatusOK || again["status"] != "existing" || again["subscription_id"] != created["subscription_id"] {
		t.Errorf("re-subscribe = %d %v", w.Code, again)
	}

	w = f.do(t, http.MethodGet, "/api/v1/conditions/"+id+"/status", "", nil)
	if n := decode(t, w)["subscriber_count"]; n != float64(1) {
		t.Errorf("subscriber_count = %v, want 1", n)
	}

	if w := f.do(t, http.MethodPost, "/api/v1/consumers/bot_1/stop", "user_2", nil); w.Code != http.StatusNotFound {
		t.Errorf("stop by a user without bot_1: %d, want 404", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/v1/consumers/bot_1/stop", "user_1", nil)
	if w.Code != http.StatusOK || decode(t, w)["deactivated"] != float64(1) {
		t.Errorf("stop = %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/user/subscriptions", "user_1", nil)
	subs := decode(t, w)["subscriptions"].([]any)
	if len(subs) != 1 || subs[0].(map[string]any)["status"] != "inactive" {
		t.Errorf("subscriptions after stop = %v", subs)
	}
}

func TestSubscribe_TargetRequired(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", "user_1", map[string]any{
		"consumer_type": "alert", "consumer_id": "alert_1",
		"action": map[string]any{"type": "notify"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestPlaybook_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)
	w := f.do(t, http.MethodPost, "/api/v1/playbooks", "user_1", map[string]any{
		"name": "dip", "gate_logic": "ALL", "evaluation_order": "priority",
		"entries": []any{map[string]any{"condition_id": id, "priority": 1}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create playbook: %d %s", w.Code, w.Body.String())
	}
	pb := decode(t, w)
	pid := pb["playbook_id"].(string)
	if ids := pb["condition_ids"].([]any); len(ids) != 1 || ids[0] != id {
		t.Errorf("condition_ids = %v", ids)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/playbooks/"+pid, "user_1", nil); w.Code != http.StatusOK {
		t.Errorf("owner get: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/playbooks/"+pid, "user_2", nil); w.Code != http.StatusNotFound {
		t.Errorf("other user get: %d, want 404", w.Code)
	}
}

func TestUserTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, user := range []string{"user_1", "user_1", "user_2"} {
		_ = f.triggers.RecordTrigger(ctx, model.TriggerLogEntry{
			ID: string(rune('a' + i)), UserID: user, Outcome: model.OutcomeDelivered, CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	w := f.do(t, http.MethodGet, "/api/v1/user/triggers?limit=1", "user_1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("triggers: %d", w.Code)
	}
	if got := decode(t, w)["triggers"].([]any); len(got) != 1 {
		t.Errorf("limit=1 returned %d entries", len(got))
	}

	if w := f.do(t, http.MethodGet, "/api/v1/user/triggers?limit=abc", "user_1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: %d, want 400", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestStream_DisabledOrUnauthorized(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/ws/triggers", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("no stream: %d, want 404", w.Code)
	}
}

func TestSubscribe_SameConsumerIDAcrossUsers(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)
	hook := map[string]any{
		"consumer_type": "bot", "consumer_id": "bot_1", "condition_id": id,
		"action": map[string]any{"type": "webhook", "webhook_url": "https://user1.example/hook"},
	}
	w := f.do(t, http.MethodPost, "/api/v1/subscriptions", "user_1", hook)
	if w.Code != http.StatusCreated {
		t.Fatalf("user_1 subscribe: %d %s", w.Code, w.Body.String())
	}
	first := decode(t, w)

	w = f.do(t, http.MethodPost, "/api/v1/subscriptions", "user_2", map[string]any{
		"consumer_type": "bot", "consumer_id": "bot_1", "condition_id": id,
		"action": map[string]any{"type": "bot_trigger", "bot_action": "execute_entry"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("user_2 subscribe: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "user1.example") {
		t.Errorf("user_2 response leaks user_1's webhook: %s", w.Body.String())
	}
	second := decode(t, w)
	if second["status"] != "created" || second["subscription_id"] == first["subscription_id"] {
		t.Errorf("user_2 subscribe = %v", second)
	}

	w = f.do(t, http.MethodPost, "/api/v1/consumers/bot_1/stop", "user_2", nil)
	if w.Code != http.StatusOK || decode(t, w)["deactivated"] != float64(1) {
		t.Errorf("user_2 stop = %d %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodGet, "/api/v1/conditions/"+id+"/status", "", nil)
	if n := decode(t, w)["subscriber_count"]; n != float64(1) {
		t.Errorf("subscriber_count = %v, want user_1's binding only", n)
	}
}

func TestConditionScopedPaths(t *testing.T) {
	f := newFixture(t)
	id := f.register(t)
	w := f.do(t, http.MethodPost, "/api/v1/conditions/subscribe", "user_1", map[string]any{
		"consumer_type": "alert", "consumer_id": "alert_1", "condition_id": id,
		"action": map[string]any{"type": "notify", "channel": "log"}, "fire_mode": "one_shot",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", w.Code, w.Body.String())
	}
	subID := decode(t, w)["subscription_id"].(string)

	w = f.do(t, http.MethodGet, "/api/v1/conditions/user/subscriptions", "user_1", nil)
	if subs := decode(t, w)["subscriptions"].([]any); len(subs) != 1 {
		t.Errorf("subscriptions = %v", subs)
	}

	if w := f.do(t, http.MethodDelete, "/api/v1/conditions/subscribe/"+subID, "user_2", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("foreign unsubscribe: %d, want 401", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/conditions/subscribe/"+subID, "user_1", nil); w.Code != http.StatusOK {
		t.Errorf("unsubscribe: %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/v1/conditions/"+id+"/status", "", nil)
	if n := decode(t, w)["subscriber_count"]; n != float64(0) {
		t.Errorf("subscriber_count after unsubscribe = %v", n)
	}
}
