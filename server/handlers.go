package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigbagadawgz/wager-paper-scissors/escrow"
	"github.com/bigbagadawgz/wager-paper-scissors/ledger"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/matchmaker"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/network"
	"github.com/bigbagadawgz/wager-paper-scissors/services"
	"github.com/bigbagadawgz/wager-paper-scissors/session"
)

// MatchView is the response shape rendered to clients. Choices are hidden
// until the match resolves.
type MatchView struct {
	RoomCode          string `json:"room_code"`
	Stake             string `json:"stake"`
	Status            string `json:"status"`
	HostIdentity      string `json:"host_identity"`
	OpponentIdentity  string `json:"opponent_identity,omitempty"`
	EscrowAddress     string `json:"escrow_address,omitempty"`
	HostDeposited     bool   `json:"host_deposited"`
	OpponentDeposited bool   `json:"opponent_deposited"`
	HostChoice        string `json:"host_choice,omitempty"`
	OpponentChoice    string `json:"opponent_choice,omitempty"`
	WinnerIdentity    string `json:"winner_identity,omitempty"`
	Role              string `json:"role,omitempty"`
}

func viewOf(m *models.Match, role models.Role) *MatchView {
	v := &MatchView{
		RoomCode:          m.RoomCode,
		Stake:             m.Stake.String(),
		Status:            string(m.Status),
		HostIdentity:      m.HostIdentity,
		OpponentIdentity:  m.OpponentIdentity,
		EscrowAddress:     m.EscrowAddress,
		HostDeposited:     m.HostDeposited,
		OpponentDeposited: m.OpponentDeposited,
		WinnerIdentity:    m.WinnerIdentity,
		Role:              string(role),
	}
	if m.Status == models.StatusResolved || m.Status == models.StatusSettled {
		v.HostChoice = string(m.HostChoice)
		v.OpponentChoice = string(m.OpponentChoice)
	}
	return v
}

// ErrorPayload is sent on MsgTypeError for every rejected operation.
// Retryable marks ledger errors the client should retry with the same
// request after backoff.
type ErrorPayload struct {
	Op        uint16 `json:"op"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// errorCode maps engine errors onto the wire taxonomy.
func errorCode(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, matchmaker.ErrInvalidStake):
		return "InvalidStake", false
	case errors.Is(err, matchmaker.ErrRoomNotFound):
		return "RoomNotFound", false
	case errors.Is(err, matchmaker.ErrRoomFull):
		return "RoomFull", false
	case errors.Is(err, matchmaker.ErrSelfJoin):
		return "SelfJoin", false
	case errors.Is(err, matchmaker.ErrNotParticipant), errors.Is(err, escrow.ErrNotParticipant):
		return "NotParticipant", false
	case errors.Is(err, matchmaker.ErrMatchUnderway):
		return "MatchUnderway", false
	case errors.Is(err, models.ErrMatchTerminal):
		return "MatchTerminal", false
	case errors.Is(err, services.ErrNotActive):
		return "NotActive", false
	case errors.Is(err, services.ErrAlreadyChosen):
		return "AlreadyChosen", false
	case errors.Is(err, services.ErrUnknownIdentity):
		return "UnknownIdentity", false
	case errors.Is(err, services.ErrInvalidChoice):
		return "InvalidChoice", false
	case errors.Is(err, services.ErrUnknownMatch), errors.Is(err, escrow.ErrUnknownMatch):
		return "UnknownMatch", false
	case errors.Is(err, escrow.ErrEscrowNotReady):
		return "EscrowNotReady", false
	case errors.Is(err, escrow.ErrAlreadyDeposited):
		return "AlreadyDeposited", false
	case errors.Is(err, escrow.ErrDepositVerificationFailed):
		return "DepositVerificationFailed", true
	case errors.Is(err, escrow.ErrPayoutVerificationFailed):
		return "PayoutVerificationFailed", true
	case errors.Is(err, escrow.ErrNotResolved):
		return "NotResolved", false
	default:
		return "Internal", true
	}
}

func (s *GameServer) sendError(sess *session.Session, op uint16, err error) {
	code, retryable := errorCode(err)
	payload := ErrorPayload{
		Op:        op,
		Code:      code,
		Message:   err.Error(),
		Retryable: retryable,
	}
	data, _ := json.Marshal(payload)
	sess.Send(network.MsgTypeError, data)
}

func (s *GameServer) sendJSON(sess *session.Session, msgID uint16, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Errorf("Error marshalling response for msg %d: %v", msgID, err)
		return
	}
	sess.Send(msgID, data)
}

type createMatchRequest struct {
	Identity string `json:"identity"`
	Stake    string `json:"stake"`
}

func (s *GameServer) handleCreateMatch(sess *session.Session, packet *network.Packet) {
	var req createMatchRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	stake, err := decimal.NewFromString(req.Stake)
	if err != nil {
		s.sendError(sess, packet.MsgID, matchmaker.ErrInvalidStake)
		return
	}

	m, err := s.matchmaker.CreateMatch(req.Identity, stake)
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	sess.Bind(req.Identity, m.RoomCode)
	s.monitor.IncMatchesCreated()
	s.sendJSON(sess, packet.MsgID, viewOf(m, models.RoleHost))
}

type findOrJoinRequest struct {
	Identity string `json:"identity"`
	Stake    string `json:"stake"`
}

func (s *GameServer) handleFindOrJoin(sess *session.Session, packet *network.Packet) {
	var req findOrJoinRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	stake, err := decimal.NewFromString(req.Stake)
	if err != nil {
		s.sendError(sess, packet.MsgID, matchmaker.ErrInvalidStake)
		return
	}

	m, role, err := s.matchmaker.FindOrJoin(req.Identity, stake)
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	sess.Bind(req.Identity, m.RoomCode)
	if role == models.RoleHost {
		s.monitor.IncMatchesCreated()
	}
	s.sendJSON(sess, packet.MsgID, viewOf(m, role))
}

type joinByCodeRequest struct {
	Identity string `json:"identity"`
	RoomCode string `json:"room_code"`
}

func (s *GameServer) handleJoinByCode(sess *session.Session, packet *network.Packet) {
	var req joinByCodeRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	m, err := s.matchmaker.JoinByCode(req.Identity, req.RoomCode)
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	sess.Bind(req.Identity, m.RoomCode)
	s.sendJSON(sess, packet.MsgID, viewOf(m, models.RoleOpponent))
}

type leaveMatchRequest struct {
	Identity string `json:"identity"`
	RoomCode string `json:"room_code"`
}

type leaveMatchResponse struct {
	Match   *MatchView                    `json:"match"`
	Refunds []*ledger.TransferInstruction `json:"refunds,omitempty"`
}

func (s *GameServer) handleLeaveMatch(sess *session.Session, packet *network.Packet) {
	var req leaveMatchRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	m, err := s.matchmaker.Leave(req.Identity, req.RoomCode)
	if err != nil {
		// The sweeper may have cancelled the match first; the depositor can
		// still retrieve their refund through the same operation.
		if errors.Is(err, models.ErrMatchTerminal) {
			s.sendCancelledRefunds(sess, packet, req.Identity, req.RoomCode)
			return
		}
		s.sendError(sess, packet.MsgID, err)
		return
	}
	s.monitor.IncMatchesCancelled()

	// A deposit confirmed before the cancellation is refunded, not stranded.
	var refunds []*ledger.TransferInstruction
	if m.HostDeposited || m.OpponentDeposited {
		ctx, cancel := ledgerCtx()
		defer cancel()
		refunds, err = s.coordinator.RefundOnCancel(ctx, req.RoomCode)
		if err != nil {
			logger.Log.Errorf("Failed to build refunds for cancelled match %s: %v", req.RoomCode, err)
		}
	}

	role, _ := m.RoleOf(req.Identity)
	s.sendJSON(sess, packet.MsgID, &leaveMatchResponse{
		Match:   viewOf(m, role),
		Refunds: refunds,
	})
}

// sendCancelledRefunds serves refund instructions for a match that is
// already cancelled, so a stake escrowed before a sweep is never stranded.
func (s *GameServer) sendCancelledRefunds(sess *session.Session, packet *network.Packet, identity, roomCode string) {
	m, err := s.matchService.GetMatch(roomCode)
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	role, ok := m.RoleOf(identity)
	if !ok {
		s.sendError(sess, packet.MsgID, matchmaker.ErrNotParticipant)
		return
	}
	if m.Status != models.StatusCancelled {
		s.sendError(sess, packet.MsgID, models.ErrMatchTerminal)
		return
	}

	var refunds []*ledger.TransferInstruction
	if m.HostDeposited || m.OpponentDeposited {
		ctx, cancel := ledgerCtx()
		defer cancel()
		refunds, err = s.coordinator.RefundOnCancel(ctx, roomCode)
		if err != nil {
			s.sendError(sess, packet.MsgID, err)
			return
		}
	}

	s.sendJSON(sess, packet.MsgID, &leaveMatchResponse{
		Match:   viewOf(m, role),
		Refunds: refunds,
	})
}

type depositRequest struct {
	Identity string `json:"identity"`
	RoomCode string `json:"room_code"`
	TxID     string `json:"tx_id,omitempty"`
}

func (s *GameServer) handleInitiateDeposit(sess *session.Session, packet *network.Packet) {
	var req depositRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	ctx, cancel := ledgerCtx()
	defer cancel()

	start := time.Now()
	instr, err := s.coordinator.InitiateDeposit(ctx, req.RoomCode, req.Identity)
	s.monitor.ObserveLedgerLatency(time.Since(start))
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	sess.Bind(req.Identity, req.RoomCode)
	s.sendJSON(sess, packet.MsgID, instr)
}

func (s *GameServer) handleConfirmDeposit(sess *session.Session, packet *network.Packet) {
	var req depositRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	ctx, cancel := ledgerCtx()
	defer cancel()

	start := time.Now()
	m, confirmed, err := s.coordinator.ConfirmDeposit(ctx, req.RoomCode, req.Identity, req.TxID)
	s.monitor.ObserveLedgerLatency(time.Since(start))
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	// Repeat confirmations are idempotent no-ops and must not inflate the
	// counter.
	if confirmed {
		s.monitor.IncDepositsConfirmed()
	}
	role, _ := m.RoleOf(req.Identity)
	s.sendJSON(sess, packet.MsgID, viewOf(m, role))
}

type submitChoiceRequest struct {
	Identity string `json:"identity"`
	RoomCode string `json:"room_code"`
	Choice   string `json:"choice"`
}

func (s *GameServer) handleSubmitChoice(sess *session.Session, packet *network.Packet) {
	var req submitChoiceRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	m, err := s.matchService.SubmitChoice(req.RoomCode, req.Identity, req.Choice)
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	role, _ := m.RoleOf(req.Identity)
	s.sendJSON(sess, packet.MsgID, viewOf(m, role))
}

type issuePayoutRequest struct {
	RoomCode string   `json:"room_code"`
	TxIDs    []string `json:"tx_ids,omitempty"`
}

type issuePayoutResponse struct {
	Match        *MatchView                    `json:"match"`
	Instructions []*ledger.TransferInstruction `json:"instructions,omitempty"`
}

// handleIssuePayout serves both halves of settlement: with no tx_ids it
// returns the payout instruction set; with tx_ids it verifies finality and
// marks the match settled.
func (s *GameServer) handleIssuePayout(sess *session.Session, packet *network.Packet) {
	var req issuePayoutRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	ctx, cancel := ledgerCtx()
	defer cancel()

	if len(req.TxIDs) == 0 {
		start := time.Now()
		instructions, err := s.coordinator.IssuePayout(ctx, req.RoomCode)
		s.monitor.ObserveLedgerLatency(time.Since(start))
		if err != nil {
			s.sendError(sess, packet.MsgID, err)
			return
		}
		if len(instructions) > 0 {
			s.monitor.IncPayoutsIssued()
		}
		m, err := s.matchService.GetMatch(req.RoomCode)
		if err != nil {
			s.sendError(sess, packet.MsgID, err)
			return
		}
		s.sendJSON(sess, packet.MsgID, &issuePayoutResponse{
			Match:        viewOf(m, ""),
			Instructions: instructions,
		})
		return
	}

	start := time.Now()
	m, err := s.coordinator.ConfirmPayout(ctx, req.RoomCode, req.TxIDs)
	s.monitor.ObserveLedgerLatency(time.Since(start))
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}
	s.monitor.IncMatchesSettled()
	s.sendJSON(sess, packet.MsgID, &issuePayoutResponse{Match: viewOf(m, "")})
}

type getMatchRequest struct {
	RoomCode string `json:"room_code"`
	Identity string `json:"identity,omitempty"`
}

func (s *GameServer) handleGetMatch(sess *session.Session, packet *network.Packet) {
	var req getMatchRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	m, err := s.matchService.GetMatch(req.RoomCode)
	if err != nil {
		s.sendError(sess, packet.MsgID, err)
		return
	}

	role, _ := m.RoleOf(req.Identity)
	s.sendJSON(sess, packet.MsgID, viewOf(m, role))
}
