package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/monitor"
	"github.com/wfunc/quizbattle/persistence"
	quizbattle_rpc "github.com/wfunc/quizbattle/rpc"
	"github.com/wfunc/quizbattle/services"
)

// StoreServer hosts the shared session store: net/rpc for clients, an http
// listener for metrics and health, and the sweeper.
type StoreServer struct {
	httpServer *http.Server
	rpcServer  *quizbattle_rpc.Server
	sweeper    *services.Sweeper
	monitor    *monitor.Monitor
}

func NewStoreServer(httpAddr, rpcAddr string, store persistence.Store, progress *services.ProgressService, sweeper *services.Sweeper, mon *monitor.Monitor) (*StoreServer, error) {
	// 初始化RPC服务器
	rpcServer, err := quizbattle_rpc.NewServer(rpcAddr)
	if err != nil {
		return nil, err
	}

	// 注册RPC服务
	svc := quizbattle_rpc.NewSessionStoreService(store, progress)
	svc.OnCall(mon.IncRequests)
	if err := rpcServer.Register(svc); err != nil {
		rpcServer.Stop()
		return nil, err
	}

	mon.PublishExpvars()
	return &StoreServer{
		httpServer: &http.Server{Addr: httpAddr, Handler: mon.Handler(), ReadHeaderTimeout: 5 * time.Second},
		rpcServer:  rpcServer,
		sweeper:    sweeper,
		monitor:    mon,
	}, nil
}

// RPCAddr is the bound rpc address.
func (s *StoreServer) RPCAddr() string {
	return s.rpcServer.Addr()
}

// Start serves until Shutdown is called.
func (s *StoreServer) Start(ctx context.Context) error {
	go s.rpcServer.Start()

	if s.sweeper != nil {
		if err := s.sweeper.Start(ctx); err != nil {
			return err
		}
	}

	logger.Log.Infof("Store server metrics listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StoreServer) Shutdown(ctx context.Context) error {
	s.rpcServer.Stop()
	if s.sweeper != nil {
		if err := s.sweeper.Shutdown(); err != nil {
			logger.Log.Warnf("Sweeper shutdown: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}
