package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/domain"
)

const (
	commandTimeout  = 5 * time.Second
	stopTimeout     = 10 * time.Second
	closeTimeout    = writeDeadline
	commandCapacity = 256
	shutdownReason  = "Server shutting down"
)

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type connectCmd struct {
	baseRegistryCmd
	client       *Client
	replyChannel chan struct{}
}

type disconnectCmd struct {
	baseRegistryCmd
	client       *Client
	replyChannel chan bool
}

type sendPrincipalCmd struct {
	baseRegistryCmd
	principal    domain.PrincipalID
	data         []byte
	replyChannel chan int
}

type broadcastClassCmd struct {
	baseRegistryCmd
	class        domain.RoleClass
	data         []byte
	replyChannel chan int
}

type snapshotCmd struct {
	baseRegistryCmd
	replyChannel chan Snapshot
}

type stopCmd struct {
	baseRegistryCmd
}

// Snapshot is a point-in-time view of registry sizes.
type Snapshot struct {
	Principals map[domain.PrincipalID]int
	Classes    map[domain.RoleClass]int
}

// Total is the number of registered connections.
func (s Snapshot) Total() int {
	n := 0
	for _, c := range s.Classes {
		n += c
	}
	return n
}

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithBufferSize sets the per-connection outbound buffer. A connection whose
// buffer is full when a message arrives counts as a failed send.
func WithBufferSize(n int) Option {
	return func(r *Registry) { r.bufferSize = n }
}

func WithMetrics(m *metrics.WebSocketMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry owns every live connection of this instance.
type Registry struct {
	cmdCh        chan registryCmd
	clock        clockwork.Clock
	bufferSize   int
	metrics      *metrics.WebSocketMetrics
	byPrincipal  map[domain.PrincipalID][]*Client
	byClass      map[domain.RoleClass][]*Client
	done         chan struct{}
	stopTimeout  time.Duration
	closeTimeout time.Duration
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		cmdCh:        make(chan registryCmd, commandCapacity),
		clock:        clockwork.NewRealClock(),
		bufferSize:   defaultBufferSize,
		byPrincipal:  make(map[domain.PrincipalID][]*Client),
		byClass:      make(map[domain.RoleClass][]*Client, len(domain.RoleClasses)),
		done:         make(chan struct{}),
		stopTimeout:  stopTimeout,
		closeTimeout: closeTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, class := range domain.RoleClasses {
		r.byClass[class] = nil
	}
	go r.run()
	return r
}

// Connect registers conn for principal under class and queues the
// connection_established welcome on it. The returned Client must be handed
// back to Disconnect when the transport closes.
func (r *Registry) Connect(ctx context.Context, conn Conn, principal domain.PrincipalID, class domain.RoleClass) (*Client, error) {
	client := &Client{
		id:        uuid.New(),
		principal: principal,
		class:     class,
		writer:    newClientWriter(conn, r.clock, r.bufferSize, r.observeWrite),
	}

	reply := make(chan struct{}, 1)
	if _, err := await(ctx, r, connectCmd{client: client, replyChannel: reply}, reply); err != nil {
		// The command may already be queued. The actor handles commands in
		// order, so this removal lands after the registration.
		r.Disconnect(client)
		client.writer.stop()
		return nil, err
	}
	return client, nil
}

// Disconnect removes client from both lists and closes its transport.
// Unknown or already removed clients are ignored.
func (r *Registry) Disconnect(client *Client) {
	if client == nil {
		return
	}
	reply := make(chan bool, 1)
	if _, err := await(context.Background(), r, disconnectCmd{client: client, replyChannel: reply}, reply); err != nil {
		client.writer.stop()
	}
}

// SendToPrincipal implements domain.Router for this instance only.
func (r *Registry) SendToPrincipal(ctx context.Context, id domain.PrincipalID, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	_, err = r.SendRawToPrincipal(ctx, id, data)
	return err
}

// BroadcastToRole implements domain.Router for this instance only.
func (r *Registry) BroadcastToRole(ctx context.Context, class domain.RoleClass, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	_, err = r.BroadcastRawToRole(ctx, class, data)
	return err
}

// SendRawToPrincipal queues an already encoded frame on every connection of
// the principal and returns how many accepted it. Offline principals yield 0.
func (r *Registry) SendRawToPrincipal(ctx context.Context, id domain.PrincipalID, data []byte) (int, error) {
	reply := make(chan int, 1)
	return await(ctx, r, sendPrincipalCmd{principal: id, data: data, replyChannel: reply}, reply)
}

// BroadcastRawToRole is SendRawToPrincipal for every connection of a role class.
func (r *Registry) BroadcastRawToRole(ctx context.Context, class domain.RoleClass, data []byte) (int, error) {
	reply := make(chan int, 1)
	return await(ctx, r, broadcastClassCmd{class: class, data: data, replyChannel: reply}, reply)
}

func (r *Registry) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return await(ctx, r, snapshotCmd{replyChannel: reply}, reply)
}

// PrincipalConnections returns the principal's live connection count, or -1
// if the registry did not answer.
func (r *Registry) PrincipalConnections(id domain.PrincipalID) int {
	snap, err := r.Snapshot(context.Background())
	if err != nil {
		return -1
	}
	return snap.Principals[id]
}

// ClassConnections returns the class's live connection count, or -1 if the
// registry did not answer.
func (r *Registry) ClassConnections(class domain.RoleClass) int {
	snap, err := r.Snapshot(context.Background())
	if err != nil {
		return -1
	}
	return snap.Classes[class]
}

// Stop closes every connection with a close frame and ends the actor.
// Blocks until the actor exits or the stop timeout passes.
func (r *Registry) Stop() {
	select {
	case r.cmdCh <- stopCmd{}:
	case <-r.done:
		return
	}

	timeout := r.clock.NewTimer(r.stopTimeout)
	defer timeout.Stop()

	select {
	case <-r.done:
		slog.Info("Connection registry stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Connection registry stop timeout exceeded", "timeout", r.stopTimeout)
	}
}

// await submits cmd and waits for its reply. It fails once the actor has
// exited, when ctx ends, or after commandTimeout.
func await[T any](ctx context.Context, r *Registry, cmd registryCmd, reply <-chan T) (T, error) {
	var zero T

	select {
	case r.cmdCh <- cmd:
	case <-r.done:
		return zero, domain.ErrRegistryStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return zero, domain.ErrRegistryStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("registry command %T timed out after %v", cmd, commandTimeout)
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Connection registry panic recovered", "panic", p)
			r.closeAllClients("registry failure")
		}
	}()

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case connectCmd:
			r.handleConnect(c)
		case disconnectCmd:
			c.replyChannel <- r.remove(c.client)
		case sendPrincipalCmd:
			c.replyChannel <- r.deliver(r.byPrincipal[c.principal], c.data, "principal")
		case broadcastClassCmd:
			c.replyChannel <- r.deliver(r.byClass[c.class], c.data, "role")
		case snapshotCmd:
			c.replyChannel <- r.snapshot()
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Connection registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleConnect(c connectCmd) {
	client := c.client
	r.byPrincipal[client.principal] = append(r.byPrincipal[client.principal], client)
	r.byClass[client.class] = append(r.byClass[client.class], client)
	r.updateGauge(client.class)

	slog.Debug("Client registered",
		"client_id", client.id.String(),
		"principal_id", client.principal,
		"role_class", client.class,
		"principal_connections", len(r.byPrincipal[client.principal]),
	)

	// Registration stands even if the welcome cannot be queued.
	welcome, err := json.Marshal(domain.WelcomeMessage(r.clock.Now()))
	if err != nil {
		slog.Error("Failed to marshal welcome message", "error", err)
	} else if !client.writer.trySend(welcome) {
		slog.Warn("Failed to send welcome message", "client_id", client.id.String(), "principal_id", client.principal)
	}

	c.replyChannel <- struct{}{}
}

// deliver offers data to every target, then prunes the ones that refused it.
// targets is never modified while it is being iterated.
func (r *Registry) deliver(targets []*Client, data []byte, route string) int {
	var failed []*Client
	delivered := 0
	for _, client := range targets {
		if client.writer.trySend(data) {
			delivered++
		} else {
			failed = append(failed, client)
		}
	}

	if r.metrics != nil && delivered > 0 {
		r.metrics.MessagesSent.WithLabelValues(route).Add(float64(delivered))
	}

	for _, client := range failed {
		reason := "slow"
		if client.writer.broken() {
			reason = "closed"
		}
		if !r.remove(client) {
			continue
		}
		slog.Warn("Pruned connection after failed send",
			"client_id", client.id.String(),
			"principal_id", client.principal,
			"role_class", client.class,
			"reason", reason,
		)
		if r.metrics != nil {
			r.metrics.PrunedConnections.WithLabelValues(reason).Inc()
		}
	}
	return delivered
}

// remove drops client from both lists and reports whether it was present.
func (r *Registry) remove(client *Client) bool {
	principalList := r.byPrincipal[client.principal]
	i := slices.Index(principalList, client)
	if i < 0 {
		return false
	}

	principalList = slices.Delete(principalList, i, i+1)
	if len(principalList) == 0 {
		delete(r.byPrincipal, client.principal)
	} else {
		r.byPrincipal[client.principal] = principalList
	}

	classList := r.byClass[client.class]
	if j := slices.Index(classList, client); j >= 0 {
		r.byClass[client.class] = slices.Delete(classList, j, j+1)
	}
	r.updateGauge(client.class)

	// The writer may be blocked on a write deadline; keep the actor moving.
	go client.writer.stop()

	slog.Debug("Client unregistered", "client_id", client.id.String(), "principal_id", client.principal)
	return true
}

func (r *Registry) snapshot() Snapshot {
	snap := Snapshot{
		Principals: make(map[domain.PrincipalID]int, len(r.byPrincipal)),
		Classes:    make(map[domain.RoleClass]int, len(r.byClass)),
	}
	for id, clients := range r.byPrincipal {
		snap.Principals[id] = len(clients)
	}
	for class, clients := range r.byClass {
		snap.Classes[class] = len(clients)
	}
	return snap
}

func (r *Registry) handleStop() {
	snap := r.snapshot()
	slog.Info("Connection registry shutting down", "principals", len(snap.Principals), "total_clients", snap.Total())
	r.closeAllClients(shutdownReason)
}

// closeAllClients sends every connection its close frame in parallel. Writers
// still stuck after closeTimeout get their transport closed without one.
func (r *Registry) closeAllClients(reason string) {
	var (
		wg      sync.WaitGroup
		pending []*Client
	)
	for _, clients := range r.byClass {
		for _, client := range clients {
			pending = append(pending, client)
			wg.Go(func() { client.writer.stopGraceful(reason) })
		}
	}

	clear(r.byPrincipal)
	for class := range r.byClass {
		r.byClass[class] = nil
		r.updateGauge(class)
	}

	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(closed)
	}()

	timeout := r.clock.NewTimer(r.closeTimeout)
	defer timeout.Stop()

	select {
	case <-closed:
	case <-timeout.Chan():
		slog.Warn("Connections did not close in time, dropping transports", "timeout", r.closeTimeout, "clients", len(pending))
		for _, client := range pending {
			client.writer.abort()
		}
	}
}

func (r *Registry) updateGauge(class domain.RoleClass) {
	if r.metrics == nil {
		return
	}
	r.metrics.ActiveConnections.WithLabelValues(string(class)).Set(float64(len(r.byClass[class])))
}

func (r *Registry) observeWrite(d time.Duration) {
	if r.metrics != nil {
		r.metrics.SendDuration.Observe(d.Seconds())
	}
}
