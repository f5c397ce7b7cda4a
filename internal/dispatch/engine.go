package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"Lifeline/internal/aed"
	"Lifeline/internal/ingest"
	"Lifeline/internal/models"
	"Lifeline/internal/push"
	"Lifeline/internal/realtime"
	"Lifeline/internal/store"
	"Lifeline/internal/triage"
	"Lifeline/pkg/errors"
	"Lifeline/pkg/geo"
	"Lifeline/pkg/logger"
	"Lifeline/pkg/metrics"
	"Lifeline/pkg/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tunes the dispatch engine.
type Options struct {
	TTL          time.Duration
	FanoutRadius float64 // meters
	AEDCount     int
	AEDTimeout   time.Duration
	AITimeout    time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:          10 * time.Minute,
		FanoutRadius: 500000,
		AEDCount:     5,
		AEDTimeout:   2500 * time.Millisecond,
		AITimeout:    6 * time.Second,
	}
}

// assessRecipients remembers who saw an alert so the triage follow-up
// reaches the same audience.
type assessRecipients struct {
	raiser Sender
	users  []uint
}

// Engine owns the emergency lifecycle. A single goroutine consumes the
// command channel and performs every state transition and every broadcast,
// so events for one emergency are observed in a total order. Slow
// collaborators (AED index, AI triage, push gateway) run in spawned tasks
// that post their results back as commands.
type Engine struct {
	opts      Options
	store     store.Store
	registry  *Registry
	aeds      aed.Index
	assessor  triage.Assessor
	pusher    push.Sender
	sched     *scheduler.Scheduler
	locations *ingest.Service
	metrics   *metrics.Metrics

	cmds chan func()

	// Loop-confined; never touched outside the run goroutine.
	timers     map[string]*scheduler.Handle
	recipients map[string]assessRecipients

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(
	opts Options,
	st store.Store,
	registry *Registry,
	aeds aed.Index,
	assessor triage.Assessor,
	pusher push.Sender,
	sched *scheduler.Scheduler,
	locations *ingest.Service,
	m *metrics.Metrics,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:       opts,
		store:      st,
		registry:   registry,
		aeds:       aeds,
		assessor:   assessor,
		pusher:     pusher,
		sched:      sched,
		locations:  locations,
		metrics:    m,
		cmds:       make(chan func(), 1024),
		timers:     make(map[string]*scheduler.Handle),
		recipients: make(map[string]assessRecipients),
		ctx:        ctx,
		cancel:     cancel,
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.cmds:
			fn()
		}
	}
}

// Stop halts the loop, stops every pending timer and clears the registry.
func (e *Engine) Stop() {
	done := make(chan struct{})
	e.post(func() {
		for _, h := range e.timers {
			h.Stop()
		}
		e.timers = make(map[string]*scheduler.Handle)
		e.registry.Clear()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	e.cancel()
}

func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.ctx.Done():
	}
}

// Recover re-arms expiry timers for emergencies that survived a restart and
// retires the ones that expired while the process was down.
func (e *Engine) Recover() {
	e.post(func() {
		actives, err := e.store.ActiveEmergencies(e.ctx)
		if err != nil {
			logger.Error("failed to load active emergencies for recovery", zap.Error(err))
			return
		}
		now := time.Now()
		for _, em := range actives {
			if !em.ExpiresAt.After(now) {
				e.expire(em.ID, em.UserID)
				continue
			}
			e.armTimer(em.ID, em.UserID, em.ExpiresAt.Sub(now))
		}
	})
}

// Raise starts the SOS lifecycle for the sender's user.
func (e *Engine) Raise(s Sender, frameID int64, req RaiseRequest) {
	received := time.Now()
	e.post(func() { e.handleRaise(s, frameID, req, received) })
}

// Cancel deactivates an emergency the sender's user owns.
func (e *Engine) Cancel(s Sender, frameID int64, req CancelRequest) {
	e.post(func() { e.handleCancel(s, frameID, req.EmergencyID) })
}

// Subscribe registers the connection for broadcasts and resyncs it.
func (e *Engine) Subscribe(s Sender, frameID int64) {
	e.post(func() { e.handleSubscribe(s, frameID) })
}

// Unsubscribe removes the connection from the registry.
func (e *Engine) Unsubscribe(s Sender, frameID int64) {
	e.post(func() {
		e.registry.Unsubscribe(s.Owner(), s.ConnID())
		e.metrics.Subscribers.Set(float64(e.registry.Size()))
		e.ackOK(s, frameID)
	})
}

// ConnectionClosed implements the hub callback. Losing the user's last live
// connection retires every emergency they still hold open.
func (e *Engine) ConnectionClosed(userID uint, connID string, lastForUser bool) {
	e.post(func() {
		e.registry.Unsubscribe(userID, connID)
		e.metrics.Subscribers.Set(float64(e.registry.Size()))
		if !lastForUser {
			return
		}
		retired, err := e.store.DeactivateActive(e.ctx, userID)
		if err != nil {
			logger.Error("disconnect cleanup failed", zap.Uint("user_id", userID), zap.Error(err))
			return
		}
		for _, em := range retired {
			e.stopTimer(em.ID)
			delete(e.recipients, em.ID)
			e.broadcastCancelled(em.ID, userID)
			e.metrics.DisconnectCleanups.Inc()
		}
	})
}

func (e *Engine) handleRaise(s Sender, frameID int64, req RaiseRequest, received time.Time) {
	origin := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if !origin.Valid() {
		e.ackError(s, frameID, errors.WithCode(errors.CodeValidation, "invalid coordinates"))
		return
	}
	owner := s.Owner()

	// A newer raise supersedes anything the user still has open.
	prior, err := e.store.DeactivateActive(e.ctx, owner)
	if err != nil {
		e.ackError(s, frameID, errors.WrapCode(errors.CodePersistence, err, "failed to supersede"))
		return
	}
	for _, old := range prior {
		e.stopTimer(old.ID)
		delete(e.recipients, old.ID)
		e.broadcastCancelled(old.ID, owner)
		e.metrics.SupersessionsTotal.Inc()
	}

	now := time.Now()
	em := &models.Emergency{
		ID:        uuid.NewString(),
		UserID:    owner,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(e.opts.TTL),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Image:     req.Image,
	}
	if err := e.store.CreateEmergency(e.ctx, em); err != nil {
		e.ackError(s, frameID, errors.WrapCode(errors.CodePersistence, err, "failed to persist emergency"))
		return
	}

	if err := e.store.UpdateLocation(e.ctx, owner, req.Latitude, req.Longitude); err != nil {
		logger.Warn("failed to refresh raiser location", zap.Uint("user_id", owner), zap.Error(err))
	}

	requester := Requester{ID: owner}
	if u, err := e.store.GetUser(e.ctx, owner); err == nil {
		requester = snapshotRequester(u)
	} else {
		logger.Warn("failed to snapshot requester", zap.Uint("user_id", owner), zap.Error(err))
	}

	candidates, err := e.store.RespondersWithLocation(e.ctx, owner)
	if err != nil {
		logger.Error("failed to load responder candidates", zap.Error(err))
		candidates = nil
	}

	e.armTimer(em.ID, owner, e.opts.TTL)
	e.metrics.RaisesTotal.Inc()

	go e.lookupAEDs(s, frameID, em, requester, candidates, received)
}

// lookupAEDs runs off-loop; the result is applied back on the loop.
func (e *Engine) lookupAEDs(s Sender, frameID int64, em *models.Emergency, requester Requester, candidates []models.User, received time.Time) {
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.AEDTimeout)
	defer cancel()

	nearest, err := e.aeds.FindNearest(ctx, em.Latitude, em.Longitude, e.opts.AEDCount)
	if err != nil {
		logger.Warn("aed lookup failed", zap.String("emergency_id", em.ID), zap.Error(err))
		e.metrics.AEDFailuresTotal.Inc()
		nearest = nil
	}
	e.post(func() { e.finishRaise(s, frameID, em, requester, candidates, nearest, received) })
}

func (e *Engine) finishRaise(s Sender, frameID int64, em *models.Emergency, requester Requester, candidates []models.User, nearest []aed.AED, received time.Time) {
	if nearest == nil {
		nearest = []aed.AED{}
	}

	// Gone from the timer table means the emergency was deactivated while
	// the lookup ran. The raise itself persisted, so the raiser still gets
	// its acknowledgement; only a dead alert has nothing to fan out.
	if _, live := e.timers[em.ID]; !live {
		e.ack(s, frameID, RaiseAck{
			Status:      "ok",
			EmergencyID: em.ID,
			ExpiresAt:   em.ExpiresAt,
			NearestAEDs: nearest,
		})
		e.metrics.AckLatency.Observe(time.Since(received).Seconds())
		return
	}

	if len(nearest) > 0 {
		if snapshot, err := json.Marshal(nearest); err == nil {
			if err := e.store.AttachAEDSnapshot(e.ctx, em.ID, string(snapshot)); err != nil {
				logger.Warn("failed to store aed snapshot", zap.String("emergency_id", em.ID), zap.Error(err))
			}
		}
	}

	origin := geo.Point{Latitude: em.Latitude, Longitude: em.Longitude}
	var fanned, inRadius []uint
	for i := range candidates {
		cand := &candidates[i]
		if !cand.HasLocation() {
			continue
		}
		d := geo.Distance(origin, geo.Point{Latitude: *cand.Latitude, Longitude: *cand.Longitude})
		if !(d <= e.opts.FanoutRadius) {
			continue
		}
		inRadius = append(inRadius, cand.ID)

		members := e.registry.Members(cand.ID)
		if len(members) == 0 {
			continue
		}
		payload := NearbyPayload{
			EmergencyID: em.ID,
			OwnerID:     em.UserID,
			Latitude:    em.Latitude,
			Longitude:   em.Longitude,
			ExpiresAt:   em.ExpiresAt,
			Distance:    d,
			Image:       em.Image,
			NearestAEDs: nearest,
			Requester:   requester,
		}
		for _, m := range members {
			if err := m.SendEvent(realtime.EventEmergencyNearby, payload); err == nil {
				e.metrics.FanoutEventsTotal.Inc()
			}
		}
		fanned = append(fanned, cand.ID)
	}

	e.ack(s, frameID, RaiseAck{
		Status:      "ok",
		EmergencyID: em.ID,
		ExpiresAt:   em.ExpiresAt,
		NearestAEDs: nearest,
	})
	e.metrics.AckLatency.Observe(time.Since(received).Seconds())

	e.recipients[em.ID] = assessRecipients{raiser: s, users: fanned}

	if e.pusher != nil && len(inRadius) > 0 {
		go e.notifyPush(em, requester, inRadius)
	}
	if em.Image != "" && e.assessor != nil {
		go e.runTriage(em, requester.Medical)
	} else {
		delete(e.recipients, em.ID)
	}
}

// notifyPush runs off-loop; delivery is best effort.
func (e *Engine) notifyPush(em *models.Emergency, requester Requester, userIDs []uint) {
	name := requester.Name
	if name == "" {
		name = "Someone"
	}
	results := e.pusher.Notify(e.ctx, userIDs, push.Notification{
		Title: "SOS Alert",
		Body:  name + " needs help nearby.",
		Tag:   em.ID,
		Data: map[string]interface{}{
			"emergencyId": em.ID,
			"latitude":    em.Latitude,
			"longitude":   em.Longitude,
		},
	})
	for _, r := range results {
		if r.Err != nil {
			e.metrics.PushFailuresTotal.Inc()
		}
	}
}

// runTriage runs off-loop; the verdict is applied back on the loop.
func (e *Engine) runTriage(em *models.Emergency, history []models.MedicalHistory) {
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.AITimeout)
	defer cancel()

	verdict := e.assessor.Assess(ctx, em.Image, history)
	if verdict.Condition == "Error" {
		e.metrics.AIFailuresTotal.Inc()
	}
	e.post(func() { e.finishTriage(em.ID, em.UserID, verdict) })
}

func (e *Engine) finishTriage(emergencyID string, owner uint, verdict models.Assessment) {
	if enc, err := json.Marshal(verdict); err == nil {
		if err := e.store.AttachAssessment(e.ctx, emergencyID, string(enc)); err != nil {
			logger.Warn("failed to store assessment", zap.String("emergency_id", emergencyID), zap.Error(err))
		}
	}

	rec, ok := e.recipients[emergencyID]
	if !ok {
		return
	}
	delete(e.recipients, emergencyID)

	payload := AssessmentPayload{EmergencyID: emergencyID, Assessment: verdict}
	_ = rec.raiser.SendEvent(realtime.EventEmergencyAssessment, payload)
	for _, uid := range rec.users {
		if uid == owner {
			continue
		}
		for _, m := range e.registry.Members(uid) {
			_ = m.SendEvent(realtime.EventEmergencyAssessment, payload)
		}
	}
}

func (e *Engine) handleCancel(s Sender, frameID int64, emergencyID string) {
	if emergencyID == "" {
		e.ackError(s, frameID, errors.WithCode(errors.CodeValidation, "missing emergencyId"))
		return
	}
	em, err := e.store.GetEmergency(e.ctx, emergencyID)
	if err != nil {
		e.ackError(s, frameID, errors.WithCode(errors.CodeNotFound, "emergency not found"))
		return
	}
	if em.UserID != s.Owner() {
		e.ackError(s, frameID, errors.WithCode(errors.CodeUnauthorized, "not the owner"))
		return
	}
	if !em.IsActive {
		e.ackError(s, frameID, errors.WithCode(errors.CodeNotFound, "no active emergency with that id"))
		return
	}

	flipped, err := e.store.DeactivateIfActive(e.ctx, emergencyID)
	if err != nil {
		e.ackError(s, frameID, errors.WrapCode(errors.CodePersistence, err, "failed to cancel"))
		return
	}
	if !flipped {
		e.ackError(s, frameID, errors.WithCode(errors.CodeNotFound, "no active emergency with that id"))
		return
	}

	e.stopTimer(emergencyID)
	delete(e.recipients, emergencyID)
	e.broadcastCancelled(emergencyID, em.UserID)
	e.metrics.CancelsTotal.Inc()
	e.ackOK(s, frameID)
}

func (e *Engine) handleSubscribe(s Sender, frameID int64) {
	wasNew := e.registry.Subscribe(s.Owner(), s)
	e.metrics.Subscribers.Set(float64(e.registry.Size()))
	e.ackOK(s, frameID)
	if !wasNew {
		return
	}
	e.resync(s)
}

// resync pushes every live alert in range to a newly subscribed connection
// so it does not sit blind until the next raise.
func (e *Engine) resync(s Sender) {
	at, ok := e.locations.LastKnown(e.ctx, s.Owner())
	if !ok {
		return
	}
	actives, err := e.store.ActiveEmergencies(e.ctx)
	if err != nil {
		logger.Error("failed to load active emergencies for resync", zap.Error(err))
		return
	}

	now := time.Now()
	for i := range actives {
		em := &actives[i]
		if em.UserID == s.Owner() || !em.ExpiresAt.After(now) {
			continue
		}
		d := geo.Distance(at, geo.Point{Latitude: em.Latitude, Longitude: em.Longitude})
		if !(d <= e.opts.FanoutRadius) {
			continue
		}

		requester := Requester{ID: em.UserID}
		if u, err := e.store.GetUser(e.ctx, em.UserID); err == nil {
			requester = snapshotRequester(u)
		}
		nearest := []aed.AED{}
		if em.AEDSnapshot != "" {
			_ = json.Unmarshal([]byte(em.AEDSnapshot), &nearest)
		}

		err := s.SendEvent(realtime.EventEmergencyNearby, NearbyPayload{
			EmergencyID: em.ID,
			OwnerID:     em.UserID,
			Latitude:    em.Latitude,
			Longitude:   em.Longitude,
			ExpiresAt:   em.ExpiresAt,
			Distance:    d,
			Image:       em.Image,
			NearestAEDs: nearest,
			Requester:   requester,
		})
		if err == nil {
			e.metrics.ResyncEventsTotal.Inc()
		}
	}
}

func (e *Engine) armTimer(emergencyID string, owner uint, d time.Duration) {
	e.timers[emergencyID] = e.sched.After(d, scheduler.FuncJob(func(context.Context) {
		e.post(func() { e.expire(emergencyID, owner) })
	}))
}

func (e *Engine) expire(emergencyID string, owner uint) {
	e.stopTimer(emergencyID)
	flipped, err := e.store.DeactivateIfActive(e.ctx, emergencyID)
	if err != nil {
		logger.Error("expiry failed", zap.String("emergency_id", emergencyID), zap.Error(err))
		return
	}
	// Lost the race against an explicit cancel; nothing to do.
	if !flipped {
		return
	}
	delete(e.recipients, emergencyID)
	e.broadcastCancelled(emergencyID, owner)
	e.metrics.ExpiriesTotal.Inc()
}

func (e *Engine) stopTimer(emergencyID string) {
	if h, ok := e.timers[emergencyID]; ok {
		h.Stop()
		delete(e.timers, emergencyID)
	}
}

func (e *Engine) broadcastCancelled(emergencyID string, owner uint) {
	payload := CancelledPayload{EmergencyID: emergencyID, OwnerID: owner}
	e.registry.Each(func(_ uint, m Sender) {
		_ = m.SendEvent(realtime.EventEmergencyCancelled, payload)
	})
}

func (e *Engine) ack(s Sender, frameID int64, data interface{}) {
	if err := s.SendAck(frameID, data); err != nil {
		logger.Warn("failed to ack", zap.String("conn_id", s.ConnID()), zap.Error(err))
	}
}

func (e *Engine) ackOK(s Sender, frameID int64) {
	e.ack(s, frameID, OKAck{Status: "ok"})
}

func (e *Engine) ackError(s Sender, frameID int64, err error) {
	e.ack(s, frameID, ErrorAck{
		Status:  "error",
		Code:    errors.GetCode(err),
		Message: errors.GetMessage(err),
	})
}
