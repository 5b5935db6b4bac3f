package server

import (
	"context"
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bigbagadawgz/wager-paper-scissors/broadcast"
	"github.com/bigbagadawgz/wager-paper-scissors/escrow"
	"github.com/bigbagadawgz/wager-paper-scissors/ledger"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/matchmaker"
	"github.com/bigbagadawgz/wager-paper-scissors/monitor"
	"github.com/bigbagadawgz/wager-paper-scissors/network"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
	gamerpc "github.com/bigbagadawgz/wager-paper-scissors/rpc"
	"github.com/bigbagadawgz/wager-paper-scissors/services"
	"github.com/bigbagadawgz/wager-paper-scissors/session"
	"github.com/bigbagadawgz/wager-paper-scissors/sweeper"
	"github.com/bigbagadawgz/wager-paper-scissors/timer"
)

// ledgerOpTimeout bounds the slow path of a single client request that has
// to round-trip the ledger provider.
const ledgerOpTimeout = 30 * time.Second

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	store          persistence.MatchStore
	matchmaker     *matchmaker.Matchmaker
	coordinator    *escrow.Coordinator
	matchService   *services.MatchService
	sessionManager *session.Manager
	broadcaster    broadcast.Notifier
	sweep          *sweeper.Sweeper
	timers         *timer.Manager
	rpcServer      *gamerpc.Server
	monitor        *monitor.Monitor
	shutdownChan   chan struct{}
}

// Options carries the tunables the server needs beyond its collaborators.
type Options struct {
	HTTPAddress    string
	RPCAddress     string
	CancelDeadline time.Duration
	SweepInterval  time.Duration
}

func NewGameServer(opts Options, store persistence.MatchStore, provider ledger.Provider, mon *monitor.Monitor) *GameServer {
	s := &GameServer{
		addr:           opts.HTTPAddress,
		store:          store,
		sessionManager: session.NewManager(),
		timers:         timer.NewManager(),
		monitor:        mon,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.broadcaster = broadcast.NewMatchBroadcaster(s.sessionManager)
	s.matchmaker = matchmaker.New(store, s.broadcaster)
	s.coordinator = escrow.NewCoordinator(store, provider, s.broadcaster)
	s.matchService = services.NewMatchService(store, s.broadcaster)
	s.sweep = sweeper.New(store, s.coordinator, s.broadcaster, opts.CancelDeadline)
	s.sweep.Start(s.timers, opts.SweepInterval)

	rpcServer, err := gamerpc.NewServer(opts.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	adminService := gamerpc.NewAdminService(s.matchService)
	rpc.Register(adminService)

	return s
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()

	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("Match server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, nil)
}

func (s *GameServer) Shutdown() {
	close(s.shutdownChan)
	s.sweep.Stop()
	s.timers.Stop()
	s.rpcServer.Stop()
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.monitor.IncConnectedClients()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecConnectedClients()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	s.monitor.IncRequests()
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
	case network.MsgTypeCreateMatch:
		s.handleCreateMatch(sess, packet)
	case network.MsgTypeFindOrJoin:
		s.handleFindOrJoin(sess, packet)
	case network.MsgTypeJoinByCode:
		s.handleJoinByCode(sess, packet)
	case network.MsgTypeLeaveMatch:
		s.handleLeaveMatch(sess, packet)
	case network.MsgTypeInitiateDeposit:
		s.handleInitiateDeposit(sess, packet)
	case network.MsgTypeConfirmDeposit:
		s.handleConfirmDeposit(sess, packet)
	case network.MsgTypeSubmitChoice:
		s.handleSubmitChoice(sess, packet)
	case network.MsgTypeIssuePayout:
		s.handleIssuePayout(sess, packet)
	case network.MsgTypeGetMatch:
		s.handleGetMatch(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

// ledgerCtx builds the context for operations that call out to the ledger.
func ledgerCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ledgerOpTimeout)
}
