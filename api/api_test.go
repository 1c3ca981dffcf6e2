package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowctl/policyd/api"
	"github.com/flowctl/policyd/draft"
	"github.com/flowctl/policyd/health"
	"github.com/flowctl/policyd/logger"
	"github.com/flowctl/policyd/policy"
	"github.com/flowctl/policyd/resolver"
	"github.com/flowctl/policyd/stats"
	"github.com/flowctl/policyd/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts *api.Options) (*gin.Engine, *store.Store) {
	t.Helper()

	catalogs := &store.Catalogs{
		Groups: map[string]*policy.ClientGroup{
			"g-lan":    {ID: "g-lan", Kind: policy.GroupVLAN, Subnets: []string{"10.0.0.0/16"}},
			"g-gaming": {ID: "g-gaming", Kind: policy.GroupVLAN, Subnets: []string{"10.0.2.0/24"}},
		},
		Egresses: map[string]*policy.EgressPoint{
			"wan": {ID: "wan", Kind: policy.EgressLocal, Default: true, Enabled: true},
			"vpn": {ID: "vpn", Kind: policy.EgressTunnel, Enabled: true},
		},
		DNS: map[string]*policy.DNSPolicy{
			"dns-filtered": {ID: "dns-filtered", Kind: policy.DNSFiltered},
			"dns-bypass":   {ID: "dns-bypass", Kind: policy.DNSBypass},
		},
		Matchers: map[string]*policy.TrafficMatcher{
			"m-game": {
				ID:        "m-game",
				Protocols: []string{"udp"},
				Ports:     []policy.PortRange{{Min: 3074, Max: 3074}},
			},
		},
	}
	rules := []*policy.TrafficRule{
		{
			ID:           "r-game",
			Priority:     10,
			Enabled:      true,
			ClientGroups: []string{"g-gaming"},
			Matchers:     []string{"m-game"},
			Egress:       "vpn",
			DNSPolicy:    "dns-bypass",
			Failover:     true,
			CreatedAt:    testBase,
		},
		{
			ID:           "r-default",
			Priority:     100,
			Enabled:      true,
			Default:      true,
			ClientGroups: []string{"g-lan"},
			Egress:       "wan",
			DNSPolicy:    "dns-filtered",
			CreatedAt:    testBase,
		},
	}

	st, errs := store.New(catalogs, rules, store.LoggerOption(logger.Nop()))
	require.Nil(t, errs)

	tracker := health.NewTracker(func() []*policy.EgressPoint { return nil },
		health.IntervalOption(time.Hour),
		health.LoggerOption(logger.Nop()),
	)
	t.Cleanup(func() { tracker.Close() })

	agg := stats.NewAggregator(stats.LoggerOption(logger.Nop()))
	t.Cleanup(func() { agg.Close() })

	if opts == nil {
		opts = &api.Options{}
	}
	opts.Store = st
	opts.Controller = draft.NewController(st, draft.LoggerOption(logger.Nop()))
	opts.Resolver = resolver.NewResolver(resolver.RecorderOption(agg), resolver.LoggerOption(logger.Nop()))
	opts.Tracker = tracker
	opts.Stats = agg

	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.Register(r, opts)
	return r, st
}

func doJSON(t *testing.T, r *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetRuleList(t *testing.T) {
	r, st := newTestEngine(t, nil)

	w := doJSON(t, r, http.MethodGet, "/policy/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Version uint64                `json:"version"`
			Rules   []*policy.TrafficRule `json:"rules"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, st.Snapshot().Version(), resp.Data.Version)
	require.Len(t, resp.Data.Rules, 2)
}

func TestResolveEndpoint(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	w := doJSON(t, r, http.MethodPost, "/policy/resolve", &policy.Flow{
		SrcIP:    "10.0.2.15",
		Protocol: "udp",
		DstPort:  3074,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data *policy.Resolution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "r-game", resp.Data.RuleID)
	require.Equal(t, "vpn", resp.Data.Egress.ID)
}

func TestRuleCRUD(t *testing.T) {
	r, st := newTestEngine(t, nil)
	before := st.Snapshot().Version()

	rule := &policy.TrafficRule{
		ID:           "r-new",
		Priority:     20,
		Enabled:      true,
		ClientGroups: []string{"g-lan"},
		Egress:       "vpn",
		DNSPolicy:    "dns-filtered",
	}

	w := doJSON(t, r, http.MethodPost, "/policy/rules", rule)
	require.Equal(t, http.StatusOK, w.Code)
	require.Greater(t, st.Snapshot().Version(), before)
	require.NotNil(t, st.Snapshot().Rule("r-new"))

	w = doJSON(t, r, http.MethodPost, "/policy/rules", rule)
	require.Equal(t, http.StatusBadRequest, w.Code)

	rule.Priority = 15
	w = doJSON(t, r, http.MethodPut, "/policy/rules/r-new", rule)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 15, st.Snapshot().Rule("r-new").Priority)

	w = doJSON(t, r, http.MethodDelete, "/policy/rules/r-new", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, st.Snapshot().Rule("r-new"))

	w = doJSON(t, r, http.MethodDelete, "/policy/rules/r-new", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDraftWorkflow(t *testing.T) {
	r, st := newTestEngine(t, nil)
	before := st.Snapshot().Version()

	w := doJSON(t, r, http.MethodPost, "/policy/drafts?session=s1", map[string]any{
		"action": "create",
		"rule": &policy.TrafficRule{
			ID:           "r-new",
			Priority:     20,
			Enabled:      true,
			ClientGroups: []string{"g-lan"},
			Egress:       "vpn",
			DNSPolicy:    "dns-filtered",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	// staged but not applied
	require.Equal(t, before, st.Snapshot().Version())

	w = doJSON(t, r, http.MethodGet, "/policy/drafts?session=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []*policy.DraftChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)

	w = doJSON(t, r, http.MethodPost, "/policy/drafts/apply?session=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Greater(t, st.Snapshot().Version(), before)
	require.NotNil(t, st.Snapshot().Rule("r-new"))
}

func TestApplyInvalidDraftKeepsState(t *testing.T) {
	r, st := newTestEngine(t, nil)
	before := st.Snapshot().Version()

	w := doJSON(t, r, http.MethodPost, "/policy/drafts?session=s1", map[string]any{
		"action": "create",
		"rule": &policy.TrafficRule{
			ID:           "r-bad",
			Priority:     20,
			Enabled:      true,
			ClientGroups: []string{"g-lan"},
			Egress:       "nope",
			DNSPolicy:    "dns-filtered",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/policy/drafts/apply?session=s1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, before, st.Snapshot().Version())

	// drafts are retained for correction
	w = doJSON(t, r, http.MethodGet, "/policy/drafts?session=s1", nil)
	var list struct {
		Data []*policy.DraftChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
}

func TestRuleCRUDLeavesDraftSessionsAlone(t *testing.T) {
	r, st := newTestEngine(t, nil)
	before := st.Snapshot().Version()

	// a caller-owned session named after the client identity; rule CRUD
	// stages in throwaway sessions and must never touch it
	session := "api:192.0.2.1"

	body, err := json.Marshal(map[string]any{
		"action": "create",
		"rule": &policy.TrafficRule{
			ID:           "r-staged",
			Priority:     30,
			Enabled:      true,
			ClientGroups: []string{"g-lan"},
			Egress:       "vpn",
			DNSPolicy:    "dns-filtered",
		},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/policy/drafts", bytes.NewReader(body))
	req.Header.Set("X-Draft-Session", session)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// a CRUD create that fails validation cleans up its own session only
	w2 := doJSON(t, r, http.MethodPost, "/policy/rules", &policy.TrafficRule{
		ID:           "r-bad",
		Priority:     20,
		Enabled:      true,
		ClientGroups: []string{"g-lan"},
		Egress:       "nope",
		DNSPolicy:    "dns-filtered",
	})
	require.Equal(t, http.StatusBadRequest, w2.Code)
	require.Equal(t, before, st.Snapshot().Version())

	req = httptest.NewRequest(http.MethodGet, "/policy/drafts", nil)
	req.Header.Set("X-Draft-Session", session)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req)
	require.Equal(t, http.StatusOK, w3.Code)

	var list struct {
		Data []*policy.DraftChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w3.Body.Bytes(), &list))
	require.Len(t, list.Data, 1, "the caller's staged change must survive the failed request")
}

func TestExportImport(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	w := doJSON(t, r, http.MethodGet, "/policy/export?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/json")

	req := httptest.NewRequest(http.MethodPost, "/policy/import", bytes.NewReader(w.Body.Bytes()))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestStatsEndpoints(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	doJSON(t, r, http.MethodPost, "/policy/resolve", &policy.Flow{
		SrcIP: "10.0.2.15", Protocol: "udp", DstPort: 3074, Bytes: 100,
	})

	w := doJSON(t, r, http.MethodGet, "/policy/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/policy/stats/r-game", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/policy/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestEngine(t, nil)

	w := doJSON(t, r, http.MethodGet, "/policy/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBasicAuth(t *testing.T) {
	r, _ := newTestEngine(t, &api.Options{
		Auth: func(u, p string) bool {
			return u == "admin" && p == "secret"
		},
	})

	w := doJSON(t, r, http.MethodGet, "/policy/rules", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/policy/rules", nil)
	req.SetBasicAuth("admin", "secret")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestPathPrefix(t *testing.T) {
	r, _ := newTestEngine(t, &api.Options{
		PathPrefix: "/v1",
	})

	w := doJSON(t, r, http.MethodGet, "/v1/policy/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/policy/rules", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
