package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"go.uber.org/zap"
)

// CallUser starts ringing req.RecipientID. Failures the caller should show
// (offline callee, busy pair, unknown caller) are answered with call_failed.
func (h *Hub) CallUser(ctx context.Context, c *Conn, req CallUserRequest) error {
	callerID := c.Identity.UserID
	if req.RecipientID == callerID {
		h.reply(c, EventCallFailed, CallFailedPayload{Message: "cannot call yourself"})
		return nil
	}

	caller, err := h.store.FindUser(ctx, callerID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			h.reply(c, EventCallFailed, CallFailedPayload{Message: ErrUnknownUser.Error()})
			return nil
		}
		return fmt.Errorf("find caller: %w", err)
	}

	if !h.presence.IsOnline(req.RecipientID) {
		h.reply(c, EventCallFailed, CallFailedPayload{Message: ErrRecipientOffline.Error()})
		return nil
	}

	session, err := h.calls.Initiate(callerID, req.RecipientID, req.CallType, h.now())
	if err != nil {
		h.reply(c, EventCallFailed, CallFailedPayload{Message: err.Error()})
		return nil
	}
	// The callee's last connection may have gone between the check above and
	// Initiate, after its disconnect already dropped that user's calls.
	if !h.presence.IsOnline(req.RecipientID) {
		if _, err := h.calls.End(callerID, req.RecipientID); err == nil {
			CallsFinished.WithLabelValues(string(CallFailed)).Inc()
		}
		h.reply(c, EventCallFailed, CallFailedPayload{Message: ErrRecipientOffline.Error()})
		return nil
	}

	h.log.Info("call ringing",
		zap.String("call_id", session.ID),
		zap.String("caller_id", callerID),
		zap.String("callee_id", req.RecipientID),
		zap.String("call_type", req.CallType),
	)
	h.sendTo(req.RecipientID, EventIncomingCall, IncomingCallPayload{
		CallID:       session.ID,
		CallerID:     callerID,
		CallerName:   caller.Name,
		CallerAvatar: caller.Avatar,
		CallerRole:   c.Identity.Role,
		Offer:        req.Offer,
		CallType:     req.CallType,
		Timestamp:    session.StartedAt,
	})
	return nil
}

// AcceptCall answers a ringing call. If the caller has gone away the
// transition still happens and the answer is dropped. The accepted call is
// then ended right away and the callee gets call_ended with reason
// "disconnected", instead of being left in a call nobody can hang up from
// the other side.
func (h *Hub) AcceptCall(calleeID, callerID string, answer json.RawMessage) error {
	session, err := h.calls.Accept(calleeID, callerID)
	if err != nil {
		return err
	}

	if h.presence.IsOnline(callerID) {
		h.sendTo(callerID, EventCallAccepted, CallAcceptedPayload{RecipientID: calleeID, Answer: answer})
		return nil
	}

	h.log.Info("caller left before the answer arrived", zap.String("call_id", session.ID))
	if ended, err := h.calls.End(calleeID, callerID); err == nil {
		CallsFinished.WithLabelValues(string(ended.State)).Inc()
		h.sendTo(calleeID, EventCallEnded, CallEndedPayload{UserID: callerID, Reason: "disconnected"})
	}
	return nil
}

func (h *Hub) RejectCall(calleeID, callerID, reason string) error {
	session, err := h.calls.Reject(calleeID, callerID)
	if err != nil {
		return err
	}
	CallsFinished.WithLabelValues(string(session.State)).Inc()

	if h.presence.IsOnline(callerID) {
		h.sendTo(callerID, EventCallRejected, CallRejectedPayload{RecipientID: calleeID, Reason: reason})
	}
	return nil
}

// RelayIceCandidate forwards a candidate within an active call. Offline
// recipients are ignored.
func (h *Hub) RelayIceCandidate(fromID, toID string, candidate json.RawMessage) error {
	if err := h.calls.CanRelay(fromID, toID); err != nil {
		return err
	}
	if !h.presence.IsOnline(toID) {
		return nil
	}
	h.sendTo(toID, EventIceCandidate, IceCandidatePayload{SenderID: fromID, Candidate: candidate})
	return nil
}

// EndCall hangs up an accepted call, or cancels one that is still ringing.
func (h *Hub) EndCall(fromID, toID, reason string) error {
	session, err := h.calls.End(fromID, toID)
	if err != nil {
		return err
	}
	CallsFinished.WithLabelValues(string(session.State)).Inc()

	if reason == "" {
		reason = "ended"
	}
	if h.presence.IsOnline(toID) {
		h.sendTo(toID, EventCallEnded, CallEndedPayload{UserID: fromID, Reason: reason})
	}
	return nil
}

func (h *Hub) callTimedOut(s CallSession) {
	CallsFinished.WithLabelValues(string(s.State)).Inc()
	h.log.Info("call not answered", zap.String("call_id", s.ID))

	h.sendTo(s.CallerID, EventCallFailed, CallFailedPayload{Message: "no answer"})
	h.sendTo(s.CalleeID, EventCallEnded, CallEndedPayload{UserID: s.CallerID, Reason: "timeout"})
}
