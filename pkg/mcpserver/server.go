// Package mcpserver exposes the SSH operations as MCP tools over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sshmcp-project/sshmcp/pkg/auth"
	"github.com/sshmcp-project/sshmcp/pkg/cache"
	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/executor"
	"github.com/sshmcp-project/sshmcp/pkg/logger"
	"github.com/sshmcp-project/sshmcp/pkg/pool"
	"github.com/sshmcp-project/sshmcp/pkg/safety"
	"github.com/sshmcp-project/sshmcp/pkg/session"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
	"github.com/sshmcp-project/sshmcp/pkg/transfer"
)

const (
	serverName    = "sshmcp"
	serverVersion = "1.0.0"

	defaultSSHPort  = 22
	defaultPage     = 1
	defaultPageSize = 100
)

// Server wires the pool, cache, classifier, executor, session manager and
// transfer manager behind an MCP stdio server.
type Server struct {
	settings *config.Settings
	creds    *auth.Store

	pool     *pool.Pool
	cache    *cache.Cache
	executor *executor.Executor
	sessions *session.Manager
	transfer *transfer.Manager

	mcp *mcp.Server
}

// New builds a fully wired server from settings.
func New(settings *config.Settings) (*Server, error) {
	classifier, err := safety.NewClassifier(settings.SafetyWhitelist)
	if err != nil {
		return nil, err
	}
	credStore, err := auth.Load(settings.CredentialFile)
	if err != nil {
		return nil, err
	}

	p := pool.New(settings, &sshclient.DefaultDialer{})
	c := cache.New(settings)

	s := &Server{
		settings: settings,
		creds:    credStore,
		pool:     p,
		cache:    c,
		executor: executor.New(settings, p, c, classifier),
		sessions: session.NewManager(settings, p),
		transfer: transfer.NewManager(settings, p),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until the context is canceled or the client
// disconnects, then tears down sessions and pooled connections.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("starting MCP stdio server")

	runErr := s.mcp.Run(ctx, &mcp.StdioTransport{})

	closed := s.sessions.CloseAll()
	if closed > 0 {
		log.Infof("closed %d interactive sessions", closed)
	}
	if err := s.pool.CloseAll(); err != nil {
		log.Warnf("error closing connection pool: %v", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// targetArgs are the connection fields shared by every host-facing tool.
type targetArgs struct {
	Host           string `json:"host"`
	Username       string `json:"username"`
	Port           int    `json:"port,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
}

func (s *Server) resolve(args targetArgs) (sshclient.Target, sshclient.Credentials, error) {
	port := args.Port
	if port == 0 {
		port = defaultSSHPort
	}
	target := sshclient.Target{Host: args.Host, Port: port}

	if args.Password != "" || args.PrivateKeyPath != "" {
		return target, sshclient.Credentials{
			Username:       args.Username,
			Password:       args.Password,
			PrivateKeyPath: args.PrivateKeyPath,
		}, nil
	}
	if creds, ok := s.creds.Lookup(args.Host, args.Username); ok {
		return target, creds, nil
	}
	return target, sshclient.Credentials{}, fmt.Errorf(
		"no credentials supplied for %s@%s and none found in the credential file",
		args.Username, args.Host)
}
