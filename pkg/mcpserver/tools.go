package mcpserver

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sshmcp-project/sshmcp/pkg/cache"
	"github.com/sshmcp-project/sshmcp/pkg/executor"
	"github.com/sshmcp-project/sshmcp/pkg/session"
	"github.com/sshmcp-project/sshmcp/pkg/tokens"
	"github.com/sshmcp-project/sshmcp/pkg/transfer"
)

type shapeArgs struct {
	TokenMode     string `json:"token_mode,omitempty"`
	FilterPattern string `json:"filter_pattern,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty"`
}

func (a shapeArgs) options() executor.ShapeOptions {
	mode := tokens.Mode(a.TokenMode)
	if mode == "" {
		mode = tokens.ModeFull
	}
	return executor.ShapeOptions{
		Mode:          mode,
		FilterPattern: a.FilterPattern,
		MaxTokens:     a.MaxTokens,
	}
}

type executeInput struct {
	targetArgs
	shapeArgs
	Command         string `json:"command"`
	UseCache        *bool  `json:"use_cache,omitempty"`
	CacheCategory   string `json:"cache_category,omitempty"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds,omitempty"`
}

type batchInput struct {
	targetArgs
	shapeArgs
	Commands []string `json:"commands"`
}

type batchOutput struct {
	Results []*executor.CommandResult `json:"results"`
}

type scriptInput struct {
	targetArgs
	shapeArgs
	Script string `json:"script"`
	Shell  string `json:"shell,omitempty"`
}

type systemInfoInput struct {
	targetArgs
	ForceRefresh bool `json:"force_refresh,omitempty"`
}

type systemInfoOutput struct {
	Info map[string]executor.ProbeResult `json:"info"`
}

type searchInput struct {
	targetArgs
	Query     string `json:"query"`
	Path      string `json:"path"`
	TokenMode string `json:"token_mode,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type sessionInfoInput struct{}

type sessionInfoOutput struct {
	Cache    cache.Info `json:"cache"`
	Sessions int        `json:"sessions"`
}

type clearCacheInput struct {
	Keys     []string `json:"keys,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	Category string   `json:"category,omitempty"`
}

type healthInput struct {
	targetArgs
}

type healthOutput struct {
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type uploadInput struct {
	targetArgs
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Verify     *bool  `json:"verify,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	Resume     bool   `json:"resume,omitempty"`
}

type downloadInput struct {
	targetArgs
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Verify     *bool  `json:"verify,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	Resume     bool   `json:"resume,omitempty"`
}

type fileInfoInput struct {
	targetArgs
	Path string `json:"path"`
}

type dirListInput struct {
	targetArgs
	Path          string `json:"path"`
	Page          int    `json:"page,omitempty"`
	PageSize      int    `json:"page_size,omitempty"`
	FilterPattern string `json:"filter_pattern,omitempty"`
}

type dirInteractiveInput struct {
	targetArgs
	Command      string `json:"command,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	CloseSession bool   `json:"close_session,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ssh_execute",
		Description: "Execute a single command on a remote host over SSH. " +
			"Supports result caching and output shaping (full/filter/truncate). " +
			"Destructive commands are blocked or flagged with warnings.",
	}, s.sshExecute)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ssh_execute_batch",
		Description: "Execute several commands in order over one SSH connection. " +
			"Results are returned in command order.",
	}, s.sshExecuteBatch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ssh_execute_script",
		Description: "Run a multi-line shell script on a remote host. The script " +
			"is fed to the interpreter (default /bin/bash) over stdin.",
	}, s.sshExecuteScript)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ssh_system_info",
		Description: "Collect basic system facts from a remote host (hostname, " +
			"kernel, uptime, current user, OS release). Results are cached.",
	}, s.sshSystemInfo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ssh_search_content",
		Description: "Recursively grep for text under a remote path. Output is " +
			"truncated by default to keep responses small.",
	}, s.sshSearchContent)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ssh_session_info",
		Description: "Report the server's cache occupancy and open interactive session count.",
	}, s.sshSessionInfo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ssh_clear_cache",
		Description: "Clear cached results by key, tag or category. With no " +
			"filters the whole cache is cleared.",
	}, s.sshClearCache)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ssh_health_check",
		Description: "Verify SSH connectivity to a host by running a trivial echo command.",
	}, s.sshHealthCheck)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "file_upload",
		Description: "Upload a local file to a remote host over SFTP with chunked " +
			"writes, optional resume and digest verification.",
	}, s.fileUpload)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "file_download",
		Description: "Download a remote file over SFTP with chunked reads, " +
			"optional resume and digest verification.",
	}, s.fileDownload)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "file_info",
		Description: "Stat a remote path: size, permissions, modification time.",
	}, s.fileInfo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "dir_list",
		Description: "List a remote directory with sorted names, optional regex " +
			"filtering and pagination.",
	}, s.dirList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "dir_interactive",
		Description: "Run a command inside a persistent interactive shell session " +
			"that keeps its working directory and environment between calls. " +
			"Pass session_id to reuse a session, close_session to end it.",
	}, s.dirInteractive)
}

func (s *Server) sshExecute(ctx context.Context, _ *mcp.CallToolRequest, in executeInput) (*mcp.CallToolResult, *executor.CommandResult, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}

	useCache := true
	if in.UseCache != nil {
		useCache = *in.UseCache
	}
	category := cache.CategoryDynamic
	if in.CacheCategory != "" {
		category = cache.Category(in.CacheCategory)
	}

	res, err := s.executor.ExecuteCommand(ctx, target, creds, in.Command,
		in.shapeArgs.options(), executor.CacheOptions{
			UseCache:   useCache,
			Category:   category,
			TTLSeconds: in.CacheTTLSeconds,
		})
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) sshExecuteBatch(ctx context.Context, _ *mcp.CallToolRequest, in batchInput) (*mcp.CallToolResult, *batchOutput, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.executor.ExecuteBatch(ctx, target, creds, in.Commands, in.shapeArgs.options())
	if err != nil {
		return nil, nil, err
	}
	return nil, &batchOutput{Results: results}, nil
}

func (s *Server) sshExecuteScript(ctx context.Context, _ *mcp.CallToolRequest, in scriptInput) (*mcp.CallToolResult, *executor.CommandResult, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.executor.ExecuteScript(ctx, target, creds, in.Script, in.Shell, in.shapeArgs.options())
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) sshSystemInfo(ctx context.Context, _ *mcp.CallToolRequest, in systemInfoInput) (*mcp.CallToolResult, *systemInfoOutput, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.executor.SystemInfo(ctx, target, creds, in.ForceRefresh)
	if err != nil {
		return nil, nil, err
	}
	return nil, &systemInfoOutput{Info: info}, nil
}

func (s *Server) sshSearchContent(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, *executor.CommandResult, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	shape := executor.ShapeOptions{
		Mode:      tokens.Mode(in.TokenMode),
		MaxTokens: in.MaxTokens,
	}
	res, err := s.executor.SearchContent(ctx, target, creds, in.Query, in.Path, shape)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) sshSessionInfo(_ context.Context, _ *mcp.CallToolRequest, _ sessionInfoInput) (*mcp.CallToolResult, *sessionInfoOutput, error) {
	return nil, &sessionInfoOutput{
		Cache:    s.executor.CacheStats(),
		Sessions: s.sessions.Count(),
	}, nil
}

func (s *Server) sshClearCache(_ context.Context, _ *mcp.CallToolRequest, in clearCacheInput) (*mcp.CallToolResult, *executor.ClearResult, error) {
	return nil, s.executor.ClearCache(in.Keys, in.Tag, cache.Category(in.Category)), nil
}

func (s *Server) sshHealthCheck(ctx context.Context, _ *mcp.CallToolRequest, in healthInput) (*mcp.CallToolResult, *healthOutput, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.executor.ExecuteCommand(ctx, target, creds, "echo ok",
		executor.ShapeOptions{Mode: tokens.ModeFull}, executor.CacheOptions{})
	if err != nil {
		return nil, nil, err
	}
	return nil, &healthOutput{
		OK:     res.ExitStatus == 0,
		Stdout: strings.TrimSpace(res.Stdout),
		Stderr: strings.TrimSpace(res.Stderr),
	}, nil
}

func (s *Server) fileUpload(ctx context.Context, _ *mcp.CallToolRequest, in uploadInput) (*mcp.CallToolResult, *transfer.Result, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.transfer.Upload(ctx, target, creds, in.LocalPath, in.RemotePath,
		transferOptions(in.Verify, in.ChunkSize, in.Resume))
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) fileDownload(ctx context.Context, _ *mcp.CallToolRequest, in downloadInput) (*mcp.CallToolResult, *transfer.Result, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.transfer.Download(ctx, target, creds, in.RemotePath, in.LocalPath,
		transferOptions(in.Verify, in.ChunkSize, in.Resume))
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func (s *Server) fileInfo(ctx context.Context, _ *mcp.CallToolRequest, in fileInfoInput) (*mcp.CallToolResult, *transfer.FileInfo, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.transfer.Stat(ctx, target, creds, in.Path)
	if err != nil {
		return nil, nil, err
	}
	return nil, info, nil
}

func (s *Server) dirList(ctx context.Context, _ *mcp.CallToolRequest, in dirListInput) (*mcp.CallToolResult, *transfer.Listing, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	page := in.Page
	if page == 0 {
		page = defaultPage
	}
	pageSize := in.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	listing, err := s.transfer.ListDirectory(ctx, target, creds, in.Path, page, pageSize, in.FilterPattern)
	if err != nil {
		return nil, nil, err
	}
	return nil, listing, nil
}

func (s *Server) dirInteractive(ctx context.Context, _ *mcp.CallToolRequest, in dirInteractiveInput) (*mcp.CallToolResult, *session.Result, error) {
	target, creds, err := s.resolve(in.targetArgs)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.sessions.Run(ctx, target, creds, in.Command, in.SessionID, in.CloseSession)
	if err != nil {
		return nil, nil, err
	}
	return nil, res, nil
}

func transferOptions(verify *bool, chunkSize int, resume bool) transfer.Options {
	v := true
	if verify != nil {
		v = *verify
	}
	return transfer.Options{
		ChunkSize: chunkSize,
		Resume:    resume,
		Verify:    v,
	}
}
