package network

const (
	MsgTypeHeartbeat = 1

	MsgTypeCreateMatch     = 101
	MsgTypeFindOrJoin      = 102
	MsgTypeJoinByCode      = 103
	MsgTypeLeaveMatch      = 104
	MsgTypeInitiateDeposit = 201
	MsgTypeConfirmDeposit  = 202
	MsgTypeSubmitChoice    = 203
	MsgTypeIssuePayout     = 204
	MsgTypeGetMatch        = 205

	MsgTypeMatchState = 301
	MsgTypeError      = 302
)
