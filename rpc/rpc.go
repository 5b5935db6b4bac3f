package rpc

import (
	"net"
	"net/rpc"

	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/models"
	"github.com/bigbagadawgz/wager-paper-scissors/services"
)

// Server manages the RPC listener used for internal introspection.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// AdminService exposes match and identity lookups over net/rpc for
// operational tooling. Methods follow the net/rpc signature rules.
type AdminService struct {
	matchService *services.MatchService
}

func NewAdminService(ms *services.MatchService) *AdminService {
	return &AdminService{matchService: ms}
}

type GetMatchArgs struct {
	RoomCode string
}

type GetMatchReply struct {
	Match *models.Match
}

func (as *AdminService) GetMatch(args *GetMatchArgs, reply *GetMatchReply) error {
	m, err := as.matchService.GetMatch(args.RoomCode)
	if err != nil {
		return err
	}
	reply.Match = m
	return nil
}

type GetIdentityStatsArgs struct {
	Identity string
}

type GetIdentityStatsReply struct {
	Stats *models.IdentityStats
}

func (as *AdminService) GetIdentityStats(args *GetIdentityStatsArgs, reply *GetIdentityStatsReply) error {
	stats, err := as.matchService.GetIdentityStats(args.Identity)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}
