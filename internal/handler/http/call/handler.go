// Package call exposes the call agent's local HTTP control surface: the
// UI drives calls through these endpoints and follows state through the
// state endpoints.
package call

import (
	"errors"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"peercall-core/internal/domain"
	"peercall-core/internal/relay"
	callsvc "peercall-core/internal/service/call"
	"peercall-core/internal/service/diagnostics"
	"peercall-core/internal/service/group"
	"peercall-core/pkg/response"
)

// Handler wires the call services to HTTP.
type Handler struct {
	machine     *callsvc.Machine
	history     *callsvc.History
	groups      *group.Coordinator
	diagnostics *diagnostics.Service
	relay       relay.Client
	clock       clock.Clock
	self        domain.Identity
}

// NewHandler creates the call HTTP handler.
func NewHandler(machine *callsvc.Machine, history *callsvc.History, groups *group.Coordinator, diag *diagnostics.Service, rc relay.Client, clk clock.Clock, self domain.Identity) *Handler {
	return &Handler{
		machine:     machine,
		history:     history,
		groups:      groups,
		diagnostics: diag,
		relay:       rc,
		clock:       clk,
		self:        self,
	}
}

// RegisterRoutes registers all call routes on the router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	calls := r.Group("/calls")
	{
		calls.POST("", h.StartCall)
		calls.POST("/:id/answer", h.AnswerCall)
		calls.POST("/:id/decline", h.DeclineCall)
		calls.POST("/end", h.EndCall)
		calls.POST("/audio", h.ToggleAudio)
		calls.POST("/video", h.ToggleVideo)
		calls.GET("/state", h.CallState)
		calls.GET("/history", h.CallHistory)
	}

	groups := r.Group("/groups")
	{
		groups.POST("/:id/join", h.JoinGroup)
		groups.POST("/leave", h.LeaveGroup)
		groups.POST("/end", h.EndGroup)
		groups.POST("/audio", h.ToggleGroupAudio)
		groups.POST("/video", h.ToggleGroupVideo)
		groups.GET("/state", h.GroupState)
	}

	r.GET("/diagnostics", h.RunDiagnostics)
}

type startCallRequest struct {
	CalleeID string `json:"callee_id" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=video voice"`
}

// StartCall dials a peer and blocks until ringing begins.
func (h *Handler) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "callee_id and kind (video|voice) are required")
		return
	}

	callID, err := h.machine.Start(c.Request.Context(), req.CalleeID, domain.CallKind(req.Kind))
	if errors.Is(err, callsvc.ErrGlareYield) {
		response.Conflict(c, "peer is already calling you, answer the incoming call instead")
		return
	}
	if err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"call_id": callID})
}

// AnswerCall accepts a ringing call.
func (h *Handler) AnswerCall(c *gin.Context) {
	if err := h.machine.Answer(c.Request.Context(), c.Param("id")); err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.machine.State())
}

// DeclineCall rejects a ringing call without engaging media.
func (h *Handler) DeclineCall(c *gin.Context) {
	err := callsvc.Decline(c.Request.Context(), h.relay, h.clock, h.self, c.Param("id"))
	if err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"declined": true})
}

// EndCall hangs up the call in flight.
func (h *Handler) EndCall(c *gin.Context) {
	if err := h.machine.End(c.Request.Context()); err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.machine.State())
}

// ToggleAudio flips the local microphone mute.
func (h *Handler) ToggleAudio(c *gin.Context) {
	enabled, err := h.machine.ToggleAudio(c.Request.Context())
	if err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enabled": enabled})
}

// ToggleVideo flips the local camera mute.
func (h *Handler) ToggleVideo(c *gin.Context) {
	enabled, err := h.machine.ToggleVideo(c.Request.Context())
	if err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enabled": enabled})
}

// CallState returns the current machine snapshot.
func (h *Handler) CallState(c *gin.Context) {
	response.Success(c, http.StatusOK, h.machine.State())
}

// CallHistory returns the finished calls remembered locally, newest first.
func (h *Handler) CallHistory(c *gin.Context) {
	response.Success(c, http.StatusOK, h.history.List())
}

// JoinGroup enters (or creates) the active room of a group.
func (h *Handler) JoinGroup(c *gin.Context) {
	if err := h.groups.Join(c.Request.Context(), c.Param("id")); err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.groups.State())
}

// LeaveGroup removes the local user from the joined room.
func (h *Handler) LeaveGroup(c *gin.Context) {
	if err := h.groups.Leave(c.Request.Context()); err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// EndGroup terminates the joined room for everyone (initiator only).
func (h *Handler) EndGroup(c *gin.Context) {
	if err := h.groups.End(c.Request.Context()); err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"ended": true})
}

// ToggleGroupAudio flips the local microphone mute in the joined room.
func (h *Handler) ToggleGroupAudio(c *gin.Context) {
	enabled, err := h.groups.ToggleAudio()
	if err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enabled": enabled})
}

// ToggleGroupVideo flips the local camera mute in the joined room.
func (h *Handler) ToggleGroupVideo(c *gin.Context) {
	enabled, err := h.groups.ToggleVideo()
	if err != nil {
		response.CallError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"enabled": enabled})
}

// RunDiagnostics executes the device and network probes.
func (h *Handler) RunDiagnostics(c *gin.Context) {
	response.Success(c, http.StatusOK, h.diagnostics.Run(c.Request.Context()))
}
