// Package executor orchestrates the connection pool, the result cache and
// the safety classifier into the command-execution operations the tool
// layer exposes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sshmcp-project/sshmcp/pkg/cache"
	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/pool"
	"github.com/sshmcp-project/sshmcp/pkg/safety"
	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
	"github.com/sshmcp-project/sshmcp/pkg/tokens"
)

const (
	defaultSearchMaxTokens = 800
	systemInfoHead         = 50
)

// ShapeOptions control output shaping for one call.
type ShapeOptions struct {
	Mode          tokens.Mode
	FilterPattern string
	MaxTokens     int
}

// CacheOptions control cache participation for one call. Eligibility is
// still decided by the command itself; UseCache only opts in.
type CacheOptions struct {
	UseCache bool
	Category cache.Category
	// TTLSeconds overrides the category default when non-zero. Negative
	// disables caching for this call.
	TTLSeconds int
}

// CommandResult is the outcome of one executed command.
type CommandResult struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Command       string   `json:"command"`
	ExitStatus    int      `json:"exit_status"`
	Stdout        string   `json:"stdout"`
	Stderr        string   `json:"stderr"`
	Cached        bool     `json:"cached"`
	Warnings      []string `json:"warnings"`
	TokenMode     string   `json:"token_mode"`
	TokenEstimate int      `json:"token_estimate"`
}

// ProbeResult is one system-info probe outcome.
type ProbeResult struct {
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// ClearResult reports a cache clear.
type ClearResult struct {
	Removed int        `json:"removed"`
	Cache   cache.Info `json:"cache"`
}

// Executor implements execute-command, batch, script, system-info and
// content-search on top of the pool.
type Executor struct {
	settings   *config.Settings
	pool       *pool.Pool
	cache      *cache.Cache
	classifier *safety.Classifier
}

func New(
	settings *config.Settings,
	p *pool.Pool,
	c *cache.Cache,
	classifier *safety.Classifier,
) *Executor {
	return &Executor{
		settings:   settings,
		pool:       p,
		cache:      c,
		classifier: classifier,
	}
}

// ExecuteCommand runs one command. The safety gate runs before anything
// touches the network; cache-eligible results are served from and written
// back to the cache.
func (e *Executor) ExecuteCommand(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	command string,
	shape ShapeOptions,
	copts CacheOptions,
) (*CommandResult, error) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return nil, errors.New("command cannot be empty")
	}
	if err := tokens.ValidateOptions(shape.Mode, shape.FilterPattern, shape.MaxTokens); err != nil {
		return nil, err
	}

	verdict, err := e.classifier.CheckCommand(cmd)
	if err != nil {
		return nil, err
	}

	cacheKey := e.commandCacheKey(target, creds, cmd, shape)
	useCache := copts.UseCache && cache.Cacheable(cmd)
	if useCache {
		if value, ok := e.cache.Get(cacheKey); ok {
			if res, ok := value.(*CommandResult); ok {
				return res, nil
			}
		}
	}

	raw, err := e.run(ctx, target, creds, cmd, "")
	if err != nil {
		return nil, err
	}

	result, err := e.buildResult(target, cmd, raw, verdict.Warnings, shape)
	if err != nil {
		return nil, err
	}

	if useCache {
		cached := *result
		cached.Cached = true
		e.cache.Set(
			cacheKey,
			&cached,
			copts.Category,
			ttlFromSeconds(copts.TTLSeconds),
			[]string{"command", target.Host},
		)
	}
	return result, nil
}

// ExecuteBatch runs commands in order over one pooled connection. A
// blacklist hit aborts the remainder of the batch.
func (e *Executor) ExecuteBatch(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	commands []string,
	shape ShapeOptions,
) ([]*CommandResult, error) {
	if len(commands) == 0 {
		return nil, nil
	}
	if err := tokens.ValidateOptions(shape.Mode, shape.FilterPattern, shape.MaxTokens); err != nil {
		return nil, err
	}

	var results []*CommandResult
	err := e.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		for _, command := range commands {
			cmd := strings.TrimSpace(command)
			if cmd == "" {
				continue
			}
			verdict, err := e.classifier.CheckCommand(cmd)
			if err != nil {
				return err
			}

			raw, err := conn.Run(ctx, cmd, sshclient.RunOptions{
				Timeout: e.settings.CommandTimeout,
			})
			if err != nil {
				return err
			}

			result, err := e.buildResult(target, cmd, raw, verdict.Warnings, shape)
			if err != nil {
				return err
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteScript feeds the script to "<shell> -s" over stdin. Scripts are
// warn-only checked: conditionals may guard the dangerous parts.
func (e *Executor) ExecuteScript(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	script string,
	shell string,
	shape ShapeOptions,
) (*CommandResult, error) {
	if strings.TrimSpace(script) == "" {
		return nil, errors.New("script cannot be empty")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	if err := tokens.ValidateOptions(shape.Mode, shape.FilterPattern, shape.MaxTokens); err != nil {
		return nil, err
	}

	verdict := e.classifier.CheckScript(script)
	cmd := fmt.Sprintf("%s -s", shellQuote(shell))

	raw, err := e.run(ctx, target, creds, cmd, script)
	if err != nil {
		return nil, err
	}
	return e.buildResult(target, cmd, raw, verdict.Warnings, shape)
}

// SystemInfo probes the host for basic facts, cached under the static
// category.
func (e *Executor) SystemInfo(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	forceRefresh bool,
) (map[string]ProbeResult, error) {
	cacheKey := fmt.Sprintf("system_info|%s|%d|%s", target.Host, target.Port, creds.Username)
	if !forceRefresh {
		if value, ok := e.cache.Get(cacheKey); ok {
			if info, ok := value.(map[string]ProbeResult); ok {
				return info, nil
			}
		}
	}

	probes := []struct {
		name    string
		command string
	}{
		{"hostname", "hostname"},
		{"kernel", "uname -a"},
		{"uptime", "uptime"},
		{"whoami", "whoami"},
		{"os_release", "cat /etc/os-release || true"},
	}

	info := make(map[string]ProbeResult, len(probes))
	err := e.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		for _, probe := range probes {
			raw, err := conn.Run(ctx, probe.command, sshclient.RunOptions{
				Timeout: e.settings.CommandTimeout,
			})
			if err != nil {
				return err
			}
			info[probe.name] = ProbeResult{
				ExitStatus: raw.ExitStatus,
				Stdout:     strings.TrimSpace(raw.Stdout),
				Stderr:     strings.TrimSpace(raw.Stderr),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.cache.Set(cacheKey, info, cache.CategoryStatic, e.settings.StaticTTL,
		[]string{"system", target.Host})
	return info, nil
}

// SearchContent greps recursively under path. Output defaults to truncate
// shaping so a large match set cannot flood the caller's context window.
func (e *Executor) SearchContent(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	query string,
	path string,
	shape ShapeOptions,
) (*CommandResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path cannot be empty")
	}

	if shape.Mode == "" {
		shape.Mode = tokens.ModeTruncate
	}
	if shape.Mode == tokens.ModeTruncate && shape.MaxTokens <= 0 {
		shape.MaxTokens = defaultSearchMaxTokens
	}

	cmd := fmt.Sprintf(
		"grep -R -n --binary-files=without-match -- %s %s || true",
		shellQuote(query), shellQuote(path),
	)
	return e.ExecuteCommand(ctx, target, creds, cmd, shape, CacheOptions{
		UseCache: true,
		Category: cache.CategoryDynamic,
	})
}

// ClearCache removes entries matching the filter and reports what remains.
func (e *Executor) ClearCache(keys []string, tag string, category cache.Category) *ClearResult {
	removed := e.cache.Clear(keys, tag, category)
	return &ClearResult{
		Removed: removed,
		Cache:   e.cache.GetInfo(20),
	}
}

// CacheStats reports current cache occupancy.
func (e *Executor) CacheStats() cache.Info {
	return e.cache.GetInfo(systemInfoHead)
}

func (e *Executor) run(
	ctx context.Context,
	target sshclient.Target,
	creds sshclient.Credentials,
	command string,
	stdin string,
) (*sshclient.Result, error) {
	var raw *sshclient.Result
	err := e.pool.WithConn(ctx, target, creds, func(conn sshclient.Client) error {
		var runErr error
		raw, runErr = conn.Run(ctx, command, sshclient.RunOptions{
			Stdin:   stdin,
			Timeout: e.settings.CommandTimeout,
		})
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (e *Executor) buildResult(
	target sshclient.Target,
	command string,
	raw *sshclient.Result,
	warnings []string,
	shape ShapeOptions,
) (*CommandResult, error) {
	shaped, err := tokens.Apply(raw.Stdout, shape.Mode, shape.FilterPattern, shape.MaxTokens)
	if err != nil {
		return nil, err
	}

	mode := shape.Mode
	if mode == "" {
		mode = tokens.ModeFull
	}
	if warnings == nil {
		warnings = []string{}
	}
	return &CommandResult{
		Host:          target.Host,
		Port:          target.Port,
		Command:       command,
		ExitStatus:    raw.ExitStatus,
		Stdout:        shaped,
		Stderr:        raw.Stderr,
		Warnings:      warnings,
		TokenMode:     string(mode),
		TokenEstimate: tokens.Estimate(shaped),
	}, nil
}

func (e *Executor) commandCacheKey(
	target sshclient.Target,
	creds sshclient.Credentials,
	command string,
	shape ShapeOptions,
) string {
	return fmt.Sprintf("cmd|%s|%d|%s|%s|%s|%s|%d",
		target.Host, target.Port, creds.Username,
		command, shape.Mode, shape.FilterPattern, shape.MaxTokens)
}

func ttlFromSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// shellQuote wraps s in single quotes, escaping embedded single quotes, so
// it survives the remote shell verbatim.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
