package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/quadshield/quadshield/internal/model"
)

const (
	// SubjectAlerts is the request/reply subject agents send alerts on.
	SubjectAlerts = "quadshield.alerts"
	// SubjectEmergency carries emergency broadcasts to every agent.
	SubjectEmergency = "quadshield.emergency"

	commandSubjectPrefix = "quadshield.commands."

	connectTimeout  = 10 * time.Second
	dispatchTimeout = 5 * time.Second
)

// CommandSubject is the per-agent subject containment commands arrive on.
func CommandSubject(agentID string) string {
	return commandSubjectPrefix + agentID
}

// Connect dials NATS with the standard timeout and reconnect settings.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// errorReply is sent back to agents whose alert was rejected.
type errorReply struct {
	Error string `json:"error"`
}

// AlertHandler processes one validated alert and produces the response the
// agent acts on.
type AlertHandler func(ctx context.Context, alert model.ThreatAlert) model.IncidentResponse

// AlertServer receives alerts from agents over a queue subscription so
// multiple center replicas share the load.
type AlertServer struct {
	conn      *nats.Conn
	validator *AlertValidator
	handler   AlertHandler
	logger    *slog.Logger
	sub       *nats.Subscription

	// OnInvalid is called for every rejected payload. Optional.
	OnInvalid func()
}

// NewAlertServer builds an alert server; Start must be called to begin
// receiving.
func NewAlertServer(conn *nats.Conn, handler AlertHandler, logger *slog.Logger) (*AlertServer, error) {
	validator, err := NewAlertValidator()
	if err != nil {
		return nil, err
	}
	return &AlertServer{
		conn:      conn,
		validator: validator,
		handler:   handler,
		logger:    logger,
	}, nil
}

// Start subscribes to the alert subject in the "central" queue group.
func (s *AlertServer) Start() error {
	sub, err := s.conn.QueueSubscribe(SubjectAlerts, "central", s.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", SubjectAlerts, err)
	}
	s.sub = sub
	s.logger.Info("alert server listening", "subject", SubjectAlerts)
	return nil
}

func (s *AlertServer) handleMessage(msg *nats.Msg) {
	payload, err := rawPayload(msg.Data)
	if err != nil {
		s.reject(msg, err)
		return
	}
	if err := s.validator.Validate(payload); err != nil {
		s.reject(msg, err)
		return
	}
	var alert model.ThreatAlert
	if err := Decode(payload, &alert); err != nil {
		s.reject(msg, err)
		return
	}

	response := s.handler(context.Background(), alert)
	reply, err := Encode(response)
	if err != nil {
		s.logger.Error("failed to encode incident response", "error", err)
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Error("failed to send incident response", "error", err)
	}
}

func (s *AlertServer) reject(msg *nats.Msg, cause error) {
	s.logger.Warn("rejected alert payload", "error", cause)
	if s.OnInvalid != nil {
		s.OnInvalid()
	}
	if reply, err := Encode(errorReply{Error: cause.Error()}); err == nil {
		_ = msg.Respond(reply)
	}
}

// Close drains the subscription so in-flight alerts finish processing.
func (s *AlertServer) Close() error {
	if s.sub != nil {
		return s.sub.Drain()
	}
	return nil
}

// AlertClient is the agent-side sender.
type AlertClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewAlertClient returns an alert client over an existing connection.
func NewAlertClient(conn *nats.Conn, logger *slog.Logger) *AlertClient {
	return &AlertClient{conn: conn, logger: logger}
}

// SendAlert delivers an alert and waits for the center's response.
func (c *AlertClient) SendAlert(ctx context.Context, alert model.ThreatAlert) (model.IncidentResponse, error) {
	payload, err := Encode(alert)
	if err != nil {
		return model.IncidentResponse{}, err
	}

	msg, err := c.conn.RequestWithContext(ctx, SubjectAlerts, payload)
	if err != nil {
		return model.IncidentResponse{}, fmt.Errorf("send alert: %w", err)
	}

	var reply struct {
		model.IncidentResponse
		Error string `json:"error"`
	}
	if err := Decode(msg.Data, &reply); err != nil {
		return model.IncidentResponse{}, err
	}
	if reply.Error != "" {
		return model.IncidentResponse{}, fmt.Errorf("alert rejected: %s", reply.Error)
	}
	return reply.IncidentResponse, nil
}

// CommandDispatcher sends containment commands to agents and emergency
// broadcasts to the whole fleet.
type CommandDispatcher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewCommandDispatcher returns a dispatcher over an existing connection.
func NewCommandDispatcher(conn *nats.Conn, logger *slog.Logger) *CommandDispatcher {
	return &CommandDispatcher{conn: conn, logger: logger}
}

// DispatchCommands delivers a command message to one agent and waits for
// its acknowledgement, so an unreachable agent surfaces as an error.
func (d *CommandDispatcher) DispatchCommands(ctx context.Context, agentID string, cmd model.CommandMessage) error {
	payload, err := Encode(cmd)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if _, err := d.conn.RequestWithContext(rctx, CommandSubject(agentID), payload); err != nil {
		return fmt.Errorf("dispatch to %s: %w", agentID, err)
	}
	d.logger.Info("commands dispatched", "agent_id", agentID,
		"incident_id", cmd.IncidentID, "commands", len(cmd.Commands))
	return nil
}

// BroadcastEmergency publishes the emergency state to every agent.
func (d *CommandDispatcher) BroadcastEmergency(_ context.Context, mode model.EmergencyMode) error {
	payload, err := Encode(mode)
	if err != nil {
		return err
	}
	if err := d.conn.Publish(SubjectEmergency, payload); err != nil {
		return fmt.Errorf("broadcast emergency: %w", err)
	}
	return nil
}

// CommandHandler executes one inbound command bundle on the agent.
type CommandHandler func(cmd model.CommandMessage)

// EmergencyHandler reacts to a fleet-wide emergency broadcast.
type EmergencyHandler func(mode model.EmergencyMode)

// CommandListener is the agent-side receiver for commands and emergency
// broadcasts.
type CommandListener struct {
	conn   *nats.Conn
	logger *slog.Logger
	subs   []*nats.Subscription
}

// NewCommandListener returns a listener over an existing connection.
func NewCommandListener(conn *nats.Conn, logger *slog.Logger) *CommandListener {
	return &CommandListener{conn: conn, logger: logger}
}

// Listen subscribes to this agent's command subject and the emergency
// broadcast subject.
func (l *CommandListener) Listen(agentID string, onCommand CommandHandler, onEmergency EmergencyHandler) error {
	cmdSub, err := l.conn.Subscribe(CommandSubject(agentID), func(msg *nats.Msg) {
		var cmd model.CommandMessage
		if err := Decode(msg.Data, &cmd); err != nil {
			l.logger.Warn("dropping malformed command message", "error", err)
			return
		}
		onCommand(cmd)
		_ = msg.Respond([]byte(`{"status":"ok"}`))
	})
	if err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	l.subs = append(l.subs, cmdSub)

	emSub, err := l.conn.Subscribe(SubjectEmergency, func(msg *nats.Msg) {
		var mode model.EmergencyMode
		if err := Decode(msg.Data, &mode); err != nil {
			l.logger.Warn("dropping malformed emergency broadcast", "error", err)
			return
		}
		onEmergency(mode)
	})
	if err != nil {
		return fmt.Errorf("subscribe to emergency broadcasts: %w", err)
	}
	l.subs = append(l.subs, emSub)

	l.logger.Info("command listener ready", "agent_id", agentID)
	return nil
}

// Close drains all subscriptions.
func (l *CommandListener) Close() error {
	var firstErr error
	for _, sub := range l.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
