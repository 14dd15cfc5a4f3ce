package delivery

import (
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/chanyoung/raidfs/pkg/raidrpc"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type Service struct {
	cfg *config.RaidNode

	rnh RaidNodeHandlers

	rpcSrv *rpc.Server
	rpcL   net.Listener

	httpHandler http.Handler
	httpSrv     *http.Server
	httpL       net.Listener
}

// NewDeliveryService creates a delivery service with necessary dependencies.
func NewDeliveryService(cfg *config.RaidNode, rnh RaidNodeHandlers) (*Service, error) {
	if cfg == nil || rnh == nil {
		return nil, errors.New("invalid arguments")
	}
	logger = mlog.GetPackageLogger("app/raidnode/delivery")

	// Create rpc server.
	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName(raidrpc.RaidNodePrefix, rnh); err != nil {
		return nil, err
	}

	// Create a http handler and server for the admin api.
	h := makeHandler(rnh)
	hsrv := &http.Server{
		Handler:        h,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return &Service{
		cfg: cfg,

		rnh: rnh,

		rpcSrv: rpcSrv,

		httpHandler: h,
		httpSrv:     hsrv,
	}, nil
}

// Run starts the raid node delivery service.
func (s *Service) Run() error {
	ctxLogger := mlog.GetMethodLogger(logger, "Service.Run")
	ctxLogger.Info("Start raid node delivery service ...")

	rpcL, err := net.Listen("tcp", s.cfg.ServerAddr+":"+s.cfg.ServerPort)
	if err != nil {
		return errors.Wrap(err, "listen rpc address failed")
	}
	s.rpcL = rpcL

	httpL, err := net.Listen("tcp", s.cfg.ServerAddr+":"+s.cfg.AdminPort)
	if err != nil {
		rpcL.Close()
		return errors.Wrap(err, "listen admin address failed")
	}
	s.httpL = httpL

	go s.serveRPC()
	go s.httpSrv.Serve(s.httpL)
	return nil
}

// Stop closes the listeners and shuts down the servers.
func (s *Service) Stop() error {
	if s.rpcL != nil {
		if err := s.rpcL.Close(); err != nil {
			return errors.Wrap(err, "close rpc listener failed")
		}
	}
	return s.httpSrv.Close()
}

func (s *Service) serveRPC() {
	ctxLogger := mlog.GetMethodLogger(logger, "Service.serveRPC")

	for {
		conn, err := s.rpcL.Accept()
		if err != nil {
			ctxLogger.Info(errors.Wrap(err, "stop accepting rpc connections"))
			return
		}
		go s.rpcSrv.ServeConn(conn)
	}
}

// RaidNodeHandlers is the interface that wraps the admin rpc methods
// of a raid node.
type RaidNodeHandlers interface {
	Recover(req *raidrpc.RecoverRequest, res *raidrpc.RecoverResponse) error
	ListPolicies(req *raidrpc.ListPoliciesRequest, res *raidrpc.ListPoliciesResponse) error
	JobStats(req *raidrpc.JobStatsRequest, res *raidrpc.JobStatsResponse) error
	PlacementStats(req *raidrpc.PlacementStatsRequest, res *raidrpc.PlacementStatsResponse) error
}
