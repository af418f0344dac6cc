package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopmaze/invoicecore/internal/coretypes"
)

// dispatch parses and routes one inbound frame. Malformed JSON or a frame
// missing its type is a protocol error: ignored silently, per the error
// handling design. Unknown types are ignored. Before registration, only
// register is honoured.
func (r *Router) dispatch(s *Session, payload []byte) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}
	if frame.Type == "" {
		return
	}

	_, registered := r.pidFor(s)
	if !registered && frame.Type != "register" {
		return
	}

	switch frame.Type {
	case "register":
		r.handleRegister(s, frame)
	case "register_expected_invoice":
		r.handleRegisterExpectedInvoice(s, frame)
	case "request_invoice":
		r.handleRequestInvoice(s, frame)
	case "game_event":
		r.handleGameEvent(s, frame, raw)
	case "order":
		r.handleOrder(s, frame)
	case "send-to":
		r.handleSendTo(s, frame)
	case "command":
		r.handleAdminCommand(frame)
	default:
		// unknown type: ignore
	}
}

func (r *Router) handleRegister(s *Session, frame inboundFrame) {
	if frame.UserID == "" {
		return
	}
	r.register(frame.UserID, s)
	r.sendSession(s, registerResponseFrame("success", frame.UserID, "registered"))
	r.sendSession(s, r.currentStatusFrame())
}

func (r *Router) handleRegisterExpectedInvoice(s *Session, frame inboundFrame) {
	if frame.InvoiceNumber == "" {
		return
	}
	pid := frame.PlayerID
	if pid == "" {
		pid = frame.UserID
	}

	r.registry.Register(
		frame.InvoiceNumber, pid, coretypes.OrderSummary(frame.OrderData.Summary),
		frame.OrderData.CustomerName, frame.OrderData.CustomerEmail, frame.OrderData.OrderID,
	)

	r.sendSession(s, registerExpectedInvoiceResponseFrame("success", frame.InvoiceNumber, pid, "registration accepted"))
}

func (r *Router) handleRequestInvoice(s *Session, frame inboundFrame) {
	pn := frame.InvoiceNumber
	if pn == "" {
		return
	}

	record, err := r.invoices.Get(pn)
	if err != nil {
		r.sendSession(s, invoiceResponseErrorFrame(pn, fmt.Sprintf("Invoice %s not found", pn)))
		return
	}

	var summary map[string]interface{}
	if entry, ok := r.registry.Lookup(pn); ok {
		summary = entry.OrderSummary
	} else if pid, ok := r.pidFor(s); ok {
		if entry, ok := r.registry.FindByPlayer(pid); ok {
			summary = entry.OrderSummary
		}
	}

	r.sendSession(s, invoicePDFFrame(
		record.PN, record.Filename, record.Base64Data, record.FileSize,
		record.ProcessedAt.Format(rfc3339),
		record.SourceKey, record.SourceSize, record.SourceMtime.Format(rfc3339),
		summary,
	))
}

func (r *Router) handleGameEvent(s *Session, frame inboundFrame, raw map[string]interface{}) {
	switch frame.Event {
	case "game_over":
		if r.sink != nil {
			r.sink.EmitGameOver(raw)
		}
	case "start":
		r.setGameState(coretypes.GameStateStart, "game")
	case "pause":
		r.setGameState(coretypes.GameStatePause, "game")
	case "end":
		r.setGameState(coretypes.GameStateEnd, "game")
	default:
		// unrecognised sub-event: ignore
	}
}

func (r *Router) handleOrder(s *Session, frame inboundFrame) {
	if r.sink == nil {
		r.sendSession(s, orderResponseErrorFrame("no_sink", "order sink not configured"))
		return
	}

	items := make([]map[string]interface{}, 0, len(frame.OrderPayload.Items))
	for _, it := range frame.OrderPayload.Items {
		items = append(items, map[string]interface{}{
			"description": it.Description,
			"quantity":    it.Quantity,
			"unitPrice":   it.UnitPrice,
		})
	}

	payload := map[string]interface{}{
		"customerName":  frame.OrderPayload.CustomerName,
		"customerEmail": frame.OrderPayload.CustomerEmail,
		"items":         items,
	}

	resp, err := r.sink.ProcessOrder(payload)
	if err != nil {
		slog.Warn("session: order sink call failed", "error", err)
		r.sendSession(s, orderResponseErrorFrame(err.Error(), "order processing failed"))
		return
	}

	orderID, _ := resp["orderId"].(string)
	status, _ := resp["status"].(string)
	if status == "" {
		status = "success"
	}
	message, _ := resp["message"].(string)

	r.sendSession(s, orderResponseFrame(status, orderID, message, frame.OrderPayload.CustomerName, frame.OrderPayload.CustomerEmail, len(items)))
}

func (r *Router) handleSendTo(s *Session, frame inboundFrame) {
	if frame.TargetUserID == "" {
		return
	}
	fromPID, _ := r.pidFor(s)

	target, ok := r.sessionFor(frame.TargetUserID)
	if !ok {
		r.sendSession(s, sendResponseFrame("error", fmt.Sprintf("player %s not connected", frame.TargetUserID)))
		return
	}

	r.sendSession(target, directMessageFrame(fromPID, frame.Message))
	r.sendSession(s, sendResponseFrame("success", "message delivered"))
}

func (r *Router) handleAdminCommand(frame inboundFrame) {
	if frame.Source != "admin-panel" {
		return
	}
	switch frame.Command {
	case "start":
		r.setGameState(coretypes.GameStateStart, "admin-panel")
	case "pause":
		r.setGameState(coretypes.GameStatePause, "admin-panel")
	case "end":
		r.setGameState(coretypes.GameStateEnd, "admin-panel")
	case "new":
		r.setGameState(coretypes.GameStateStart, "admin-panel")
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
