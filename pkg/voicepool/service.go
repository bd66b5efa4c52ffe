package voicepool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mywio/voice-pool/pkg/core"
)

const (
	reasonJoined = "joined"
	reasonLeft   = "left"
	reasonManual = "manual"
)

// Options configures a Service.
type Options struct {
	// Patterns are the group patterns in configuration order.
	Patterns []string
	// MaxConcurrentCalls bounds each batch; 0 means unbounded.
	MaxConcurrentCalls int
	// DryRun plans and logs without mutating channels.
	DryRun bool
}

// Service keeps every configured group sized to demand. Each group drains its
// triggers one cycle at a time; different groups run independently.
type Service struct {
	opts     Options
	api      ChannelAPI
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics
	exec     *executor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopMu  sync.RWMutex
	stopped bool
}

// NewService builds the group registry. The service accepts triggers right
// away; Init only attaches logging, metrics and the event bus.
func NewService(api ChannelAPI, opts Options) (*Service, error) {
	if api == nil {
		return nil, fmt.Errorf("channel api is required")
	}
	registry, err := NewRegistry(opts.Patterns)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:     opts,
		api:      api,
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		exec: &executor{
			api:    api,
			limit:  opts.MaxConcurrentCalls,
			dryRun: opts.DryRun,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (s *Service) Name() string {
	return "voicepool"
}

func (s *Service) Description() string {
	return "Keeps dynamic voice channel groups sized to demand"
}

func (s *Service) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityAPI}
}

func (s *Service) Status() core.ServiceStatus {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		return core.StatusStopped
	}
	return core.StatusHealthy
}

func (s *Service) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	if logger != nil {
		s.logger = logger
	}
	if registry == nil {
		return nil
	}

	metrics, err := NewMetrics(registry.GetMetricsRegisterer())
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	s.metrics = metrics
	s.exec.metrics = metrics
	s.exec.publish = registry.Publish

	for _, desc := range eventTypes() {
		if err := registry.RegisterEventType(desc); err != nil {
			s.logger.Warn("Event type already registered", "type", desc.Name)
		}
	}
	registry.Subscribe(string(core.EventReconcileNow), s.handleReconcileNow)

	if mux := registry.GetMuxServer(); mux != nil {
		mux.HandleFunc("/api/groups", s.handleGroups)
	}

	s.logger.Info("Voice pool initialized", "groups", len(s.registry.Groups()), "dry_run", s.opts.DryRun)
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Voice pool started")
	return nil
}

// Stop refuses new triggers, cancels in-flight calls and waits for every
// drain loop to exit.
func (s *Service) Stop(ctx context.Context) error {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return nil
	}
	s.stopped = true
	s.stopMu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Voice pool stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Context cancelled while waiting for group drains to finish")
		return ctx.Err()
	}
}

// Execute supports the "reconcile" action with "guild" and optional "group"
// params, "groups" which returns the group states, and "has_group" which
// reports whether "group" is a configured pattern.
func (s *Service) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	switch action {
	case "reconcile":
		guild, _ := params["guild"].(string)
		group, _ := params["group"].(string)
		if err := s.Trigger(guild, group, reasonManual); err != nil {
			return nil, err
		}
		return map[string]string{"status": "queued"}, nil
	case "groups":
		return s.Groups(), nil
	case "has_group":
		group, _ := params["group"].(string)
		return s.registry.Get(group) != nil, nil
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}

type serviceConfigView struct {
	Patterns           []string `json:"patterns"`
	MaxConcurrentCalls int      `json:"max_concurrent_calls"`
	DryRun             bool     `json:"dry_run"`
}

func (s *Service) Config() any {
	return serviceConfigView{
		Patterns:           append([]string(nil), s.opts.Patterns...),
		MaxConcurrentCalls: s.opts.MaxConcurrentCalls,
		DryRun:             s.opts.DryRun,
	}
}

// OnVoiceUpdate routes a membership change to the groups of the channels it
// touches. Channels outside every group are ignored.
func (s *Service) OnVoiceUpdate(u VoiceUpdate) {
	s.logger.Debug("Voice update", "guild", u.GuildID, "user", u.UserID,
		"joined", u.Joined != nil, "left", u.Left != nil)
	if u.Joined != nil {
		s.route(u.GuildID, u.Joined.Name, reasonJoined)
	}
	if u.Left != nil {
		s.route(u.GuildID, u.Left.Name, reasonLeft)
	}
}

// Trigger queues a cycle for the group configured as pattern, or for every
// group when pattern is empty.
func (s *Service) Trigger(guildID, pattern, reason string) error {
	if guildID == "" {
		return fmt.Errorf("guild is required")
	}
	t := Trigger{GuildID: guildID, Reason: reason, Received: time.Now()}
	if pattern == "" {
		for _, g := range s.registry.Groups() {
			if err := s.offer(g, t); err != nil {
				return err
			}
		}
		return nil
	}
	g := s.registry.Get(pattern)
	if g == nil {
		return fmt.Errorf("unknown group %q", pattern)
	}
	return s.offer(g, t)
}

func (s *Service) route(guildID, channelName, reason string) {
	topic := Topic(channelName)
	g := s.registry.Lookup(topic)
	if g == nil {
		s.logger.Debug("Ignoring channel outside configured groups", "channel", channelName)
		return
	}
	if err := s.offer(g, Trigger{GuildID: guildID, Reason: reason, Received: time.Now()}); err != nil {
		s.logger.Debug("Dropping trigger", "group", g.pattern, "error", err)
	}
}

// offer enqueues t and starts a drain loop when the group was idle.
func (s *Service) offer(g *Group, t Trigger) error {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		s.metrics.drop(g.pattern, 1)
		return ErrServiceStopped
	}
	start := g.enqueue(t)
	_, depth := g.snapshot()
	s.metrics.depth(g.pattern, depth)
	if start {
		s.wg.Add(1)
		go s.drain(g)
	}
	return nil
}

// drain runs cycles until the group's queue is empty. Only one drain per
// group exists at a time.
func (s *Service) drain(g *Group) {
	defer s.wg.Done()
	for {
		t, ok := g.next()
		if !ok {
			s.metrics.depth(g.pattern, 0)
			return
		}
		if s.ctx.Err() != nil {
			s.metrics.drop(g.pattern, g.abandon()+1)
			s.metrics.depth(g.pattern, 0)
			return
		}
		_, depth := g.snapshot()
		s.metrics.depth(g.pattern, depth)
		s.reconcile(s.ctx, g, t)
	}
}

// reconcile runs one cycle: a structural batch computed from a fresh snapshot,
// then, if anything changed, a renumbering batch from a second snapshot.
func (s *Service) reconcile(ctx context.Context, g *Group, t Trigger) {
	started := time.Now()
	logger := s.logger.With("group", g.pattern, "guild", t.GuildID, "cycle", uuid.NewString(), "reason", t.Reason)
	if !t.Received.IsZero() {
		wait := started.Sub(t.Received)
		s.metrics.waited(g.pattern, wait.Seconds())
		logger.Debug("Cycle started", "queued_for", wait)
	}

	channels, err := s.api.ListChannels(ctx, t.GuildID)
	if err != nil {
		logger.Error("Failed to list channels", "error", err)
		s.metrics.call("list", err)
		return
	}
	members := g.Members(channels)
	plan := PlanGroup(g.pattern, members)
	logger.Debug("Planned cycle", "action", plan.Action, "instances", len(members), "empty", plan.Empty)

	var calls []call
	switch {
	case plan.Create != nil:
		logger.Info("Group full, creating instance", "name", plan.Create.Name)
		calls = append(calls, s.exec.createCall(t.GuildID, *plan.Create))
	case plan.Action == ActionCreate:
		logger.Debug("No canonical channel to clone, skipping create")
	case len(plan.Deletes) > 0:
		logger.Info("Removing surplus empty instances", "count", len(plan.Deletes))
		for _, ch := range plan.Deletes {
			calls = append(calls, s.exec.deleteCall(t.GuildID, ch))
		}
	}

	if !plan.Structural() {
		s.metrics.cycle(g.pattern, ActionNone, time.Since(started).Seconds())
		return
	}

	s.exec.run(ctx, logger, t.GuildID, calls)
	s.renumber(ctx, logger, g, t.GuildID)
	s.metrics.cycle(g.pattern, plan.Action, time.Since(started).Seconds())
	logger.Debug("Cycle complete", "duration", time.Since(started))
}

func (s *Service) renumber(ctx context.Context, logger *slog.Logger, g *Group, guildID string) {
	channels, err := s.api.ListChannels(ctx, guildID)
	if err != nil {
		logger.Error("Failed to list channels for renumbering", "error", err)
		s.metrics.call("list", err)
		return
	}
	renames := Renumber(g.pattern, g.Members(channels))
	if len(renames) == 0 {
		return
	}
	calls := make([]call, 0, len(renames))
	for _, r := range renames {
		calls = append(calls, s.exec.renameCall(guildID, r))
	}
	logger.Info("Renumbering instances", "count", len(calls))
	s.exec.run(ctx, logger, guildID, calls)
}

// GroupStatus is the externally visible state of one group.
type GroupStatus struct {
	Pattern string `json:"pattern"`
	State   string `json:"state"`
	Queued  int    `json:"queued"`
}

// Groups reports every group in configuration order.
func (s *Service) Groups() []GroupStatus {
	groups := s.registry.Groups()
	out := make([]GroupStatus, 0, len(groups))
	for _, g := range groups {
		state, queued := g.snapshot()
		out = append(out, GroupStatus{Pattern: g.pattern, State: string(state), Queued: queued})
	}
	return out
}

func (s *Service) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	core.WriteJSON(w, http.StatusOK, s.Groups())
}

func (s *Service) handleReconcileNow(ctx context.Context, event core.InternalEvent) {
	guild := event.Guild
	if guild == "" {
		guild, _ = event.Details["guild"].(string)
	}
	group, _ := event.Details["group"].(string)
	reason, _ := event.Details["reason"].(string)
	if reason == "" {
		reason = reasonManual
	}
	if err := s.Trigger(guild, group, reason); err != nil {
		s.logger.Warn("Ignoring reconcile request", "guild", guild, "group", group, "error", err)
		return
	}
	s.logger.Info("Reconcile requested", "guild", guild, "group", group, "source", event.Source)
}

func eventTypes() []core.EventTypeDesc {
	channelFields := map[string]core.PayloadField{
		"channel": {Type: "string", Description: "Channel ID", Required: true},
		"name":    {Type: "string", Description: "Channel name", Required: true},
	}
	return []core.EventTypeDesc{
		{Name: core.EventPoolChannelCreated, Description: "A new group instance was created", PayloadSpec: channelFields},
		{Name: core.EventPoolChannelDeleted, Description: "A surplus empty instance was deleted", PayloadSpec: channelFields},
		{Name: core.EventPoolChannelRenamed, Description: "An instance was renumbered", PayloadSpec: channelFields},
		{Name: core.EventPoolCallFailed, Description: "A channel API call failed", PayloadSpec: map[string]core.PayloadField{
			"op":    {Type: "string", Description: "create, delete or rename", Required: true},
			"error": {Type: "string", Description: "Error text", Required: true},
		}},
		{Name: core.EventReconcileNow, Description: "Request an immediate reconciliation", PayloadSpec: map[string]core.PayloadField{
			"guild":  {Type: "string", Description: "Guild ID", Required: false},
			"group":  {Type: "string", Description: "Group pattern, all groups when empty", Required: false},
			"reason": {Type: "string", Description: "Logged as the cycle reason", Required: false},
		}},
	}
}
