package api

import (
	"net/http"
	"strconv"

	"github.com/patrickcsouzadev/todo-app/storage"
)

const highEventsAlertFloor = 5

// SecurityInit handles POST /security/init. It makes sure a usable signing
// key exists and records the run as a low-severity event.
func (a *API) SecurityInit(w http.ResponseWriter, r *http.Request) {
	resp, err := a.runInit(r)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) runInit(r *http.Request) (InitResponse, error) {
	key, created, err := a.keys.InitializeIfEmpty(r.Context())
	if err != nil {
		return InitResponse{}, err
	}
	a.audit.Event(r.Context(), &storage.SecurityEvent{
		EventType:   "SECURITY_INIT",
		Severity:    storage.SeverityLow,
		Description: "Security initialization run",
		SourceIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
		Metadata:    storage.Metadata{"keyCreated": created, "keyId": key.KeyID},
	})
	return InitResponse{Created: created, KeyID: key.KeyID}, nil
}

// RotateKeys handles POST /security/rotate. It runs the scheduled
// rotation: rotate when the current key is missing or near expiry, then
// drop expired keys.
func (a *API) RotateKeys(w http.ResponseWriter, r *http.Request) {
	report, err := a.keys.ScheduledRotation(r.Context())
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListSigningKeys handles GET /security/keys. Key metadata only; the
// secrets never leave the keystore.
func (a *API) ListSigningKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.keys.ListKeys(r.Context())
	if err != nil {
		a.mapError(w, err)
		return
	}
	infos := make([]SigningKeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, SigningKeyInfo{
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			IsActive:  k.IsActive,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, ListKeysResponse{Keys: infos})
}

// ListSecurityEvents handles GET /security/events with severity, type,
// source_ip, resolved, limit and offset query filters.
func (a *API) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.SecurityEventFilter{
		EventType: q.Get("type"),
		Severity:  storage.Severity(q.Get("severity")),
		SourceIP:  q.Get("source_ip"),
	}
	if v := q.Get("resolved"); v != "" {
		resolved := v == "true"
		filter.Resolved = &resolved
	}
	limit := queryInt(q.Get("limit"))
	offset := queryInt(q.Get("offset"))

	page, err := a.siem.GetSecurityEvents(r.Context(), filter, limit, offset)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ResolveSecurityEvents handles POST /security/events/resolve.
func (a *API) ResolveSecurityEvents(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ResolveEventsRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if len(req.EventIDs) == 0 {
		writeError(w, http.StatusBadRequest, "event_ids is required")
		return
	}

	n, err := a.siem.ResolveEvents(r.Context(), req.EventIDs)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveEventsResponse{Resolved: n})
}

// SecurityDashboard handles GET /security/dashboard?hours=N.
func (a *API) SecurityDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := a.siem.GetDashboard(r.Context(), queryInt(r.URL.Query().Get("hours")))
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// SecurityStats handles GET /security/stats?hours=N.
func (a *API) SecurityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.siem.GetSecurityStats(r.Context(), queryInt(r.URL.Query().Get("hours")))
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SecurityTrends handles GET /security/trends?days=N.
func (a *API) SecurityTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := a.siem.AnalyzeTrends(r.Context(), queryInt(r.URL.Query().Get("days")))
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

// SecurityMonitor handles POST /security/monitor: the periodic sweep run
// by the scheduler. It reads the 24h dashboard and writes synthetic
// events — a LOW heartbeat always, plus escalations when critical or high
// volumes warrant attention.
func (a *API) SecurityMonitor(w http.ResponseWriter, r *http.Request) {
	resp, err := a.runMonitor(r)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) runMonitor(r *http.Request) (MonitorResponse, error) {
	ctx := r.Context()
	dashboard, err := a.siem.GetDashboard(ctx, 24)
	if err != nil {
		return MonitorResponse{}, err
	}

	info := a.requestInfo(r)
	a.audit.Event(ctx, &storage.SecurityEvent{
		EventType:   "AUTOMATED_MONITORING",
		Severity:    storage.SeverityLow,
		Description: "Automated security monitoring sweep",
		SourceIP:    info.IP,
		UserAgent:   info.UserAgent,
		Metadata: storage.Metadata{
			"totalEvents":    dashboard.TotalEvents,
			"criticalEvents": dashboard.CriticalEvents,
			"highEvents":     dashboard.HighEvents,
		},
	})

	resp := MonitorResponse{
		TotalEvents:    dashboard.TotalEvents,
		CriticalEvents: dashboard.CriticalEvents,
		HighEvents:     dashboard.HighEvents,
	}
	if dashboard.CriticalEvents > 0 {
		resp.CriticalAlert = true
		a.audit.Event(ctx, &storage.SecurityEvent{
			EventType:   "CRITICAL_ALERT",
			Severity:    storage.SeverityCritical,
			Description: "Critical security events detected in the past 24 hours",
			SourceIP:    info.IP,
			Metadata:    storage.Metadata{"criticalEvents": dashboard.CriticalEvents},
		})
	}
	if dashboard.HighEvents >= highEventsAlertFloor {
		resp.HighAlert = true
		a.audit.Event(ctx, &storage.SecurityEvent{
			EventType:   "HIGH_EVENTS_ALERT",
			Severity:    storage.SeverityHigh,
			Description: "Elevated volume of high-severity events in the past 24 hours",
			SourceIP:    info.IP,
			Metadata:    storage.Metadata{"highEvents": dashboard.HighEvents},
		})
	}
	return resp, nil
}

// RunCorrelation handles POST /security/correlate: evaluates the
// correlation rules over recent unresolved events.
func (a *API) RunCorrelation(w http.ResponseWriter, r *http.Request) {
	if err := a.siem.Correlate(r.Context()); err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "correlation rules evaluated"})
}

// SecurityCleanup handles POST /security/cleanup?days=N: retention sweep
// over audit logs, login attempts, resolved events and expired tokens.
func (a *API) SecurityCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := a.audit.CleanupOldLogs(r.Context(), queryInt(r.URL.Query().Get("days")))
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// DeployComplete handles POST /security/deploy: the post-deploy hook that
// chains init and an immediate monitoring sweep.
func (a *API) DeployComplete(w http.ResponseWriter, r *http.Request) {
	initResp, err := a.runInit(r)
	if err != nil {
		a.mapError(w, err)
		return
	}
	monitorResp, err := a.runMonitor(r)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeployCompleteResponse{
		Init:    initResp,
		Monitor: monitorResp,
	})
}

func queryInt(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
