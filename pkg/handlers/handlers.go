// Package handlers implements the per-message-type business logic: register,
// ping, pong, settings, transcription, tts_request, and audio.
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/classlingo/relay/pkg/classroom"
	"github.com/classlingo/relay/pkg/lifecycle"
	"github.com/classlingo/relay/pkg/logger"
	"github.com/classlingo/relay/pkg/orchestrator"
	"github.com/classlingo/relay/pkg/provider"
	"github.com/classlingo/relay/pkg/storage"
	"github.com/classlingo/relay/pkg/wsconn"
)

// Handlers wires the Connection Registry, Classroom Directory, Durable
// Store, Translation Orchestrator, and Translation Provider Facade into
// the per-message business logic below.
type Handlers struct {
	registry     *wsconn.Registry
	classroom    *classroom.Directory
	store        storage.Storage
	lifecycle    *lifecycle.Manager
	orchestrator *orchestrator.Orchestrator
	facade       *provider.Facade
	log          logger.Logger

	invalidClassroomDelay time.Duration
	closeConn             func(conn *wsconn.Conn, code int, reason string)
}

// Deps bundles the Handlers constructor's dependencies.
type Deps struct {
	Registry              *wsconn.Registry
	Classroom             *classroom.Directory
	Store                 storage.Storage
	Lifecycle             *lifecycle.Manager
	Orchestrator          *orchestrator.Orchestrator
	Facade                *provider.Facade
	InvalidClassroomDelay time.Duration
	CloseConn             func(conn *wsconn.Conn, code int, reason string)
	Log                   logger.Logger
}

// New constructs Handlers and returns it ready for RegisterOn to bind each
// message type onto a dispatcher.
func New(d Deps) *Handlers {
	log := d.Log
	if log == nil {
		log = logger.NoOp{}
	}
	return &Handlers{
		registry:              d.Registry,
		classroom:             d.Classroom,
		store:                 d.Store,
		lifecycle:             d.Lifecycle,
		orchestrator:          d.Orchestrator,
		facade:                d.Facade,
		log:                   log,
		invalidClassroomDelay: d.InvalidClassroomDelay,
		closeConn:             d.CloseConn,
	}
}

// Registrar is the dispatcher-shaped registrar RegisterOn binds every
// handler onto. It is typed structurally (not imported from pkg/dispatcher) to
// avoid a import cycle between the two packages' test suites.
type Registrar interface {
	Register(frameType string, h func(ctx context.Context, conn *wsconn.Conn, raw json.RawMessage))
}

// RegisterOn binds every C7 handler onto r.
func (h *Handlers) RegisterOn(r Registrar) {
	r.Register("register", h.Register)
	r.Register("ping", h.Ping)
	r.Register("pong", h.Pong)
	r.Register("settings", h.Settings)
	r.Register("transcription", h.Transcription)
	r.Register("tts_request", h.TTSRequest)
	r.Register("audio", h.Audio)
}

func (h *Handlers) send(conn *wsconn.Conn, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("handlers: failed to encode outbound frame", map[string]interface{}{"error": err.Error()})
		return
	}
	select {
	case conn.Send <- data:
	default:
		h.log.Warn("handlers: send buffer full, dropping frame", map[string]interface{}{"connectionId": conn.ID})
	}
}

func newID() string { return uuid.NewString() }
