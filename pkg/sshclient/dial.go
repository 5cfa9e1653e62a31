package sshclient

import (
	"context"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"

	"github.com/sshmcp-project/sshmcp/pkg/logger"
)

// DefaultDialer dials real SSH connections with golang.org/x/crypto/ssh.
type DefaultDialer struct{}

func NewDefaultDialer() *DefaultDialer {
	return &DefaultDialer{}
}

func (d *DefaultDialer) Dial(
	ctx context.Context,
	target Target,
	creds Credentials,
) (Client, error) {
	l := logger.Get()
	l.Debugf("dialing %s@%s", creds.Username, target.Addr())

	clientConfig, err := buildClientConfig(creds)
	if err != nil {
		return nil, NewConnectionError(target, err)
	}

	client, err := dialContext(ctx, "tcp", target.Addr(), clientConfig)
	if err != nil {
		return nil, NewConnectionError(target, err)
	}
	return newClientWrapper(client), nil
}

func buildClientConfig(creds Credentials) (*ssh.ClientConfig, error) {
	if creds.Username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	var methods []ssh.AuthMethod
	if len(creds.PrivateKeyMaterial) > 0 || creds.PrivateKeyPath != "" {
		signer, err := loadSigner(creds)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method: provide a password or a private key")
	}

	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         SSHDialTimeout,
	}, nil
}

func loadSigner(creds Credentials) (ssh.Signer, error) {
	material := creds.PrivateKeyMaterial
	if len(material) == 0 {
		path, err := homedir.Expand(creds.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand private key path: %w", err)
		}
		material, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
	}

	signer, err := ssh.ParsePrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func dialContext(
	ctx context.Context,
	network, addr string,
	config *ssh.ClientConfig,
) (*ssh.Client, error) {
	type dialResult struct {
		client *ssh.Client
		err    error
	}

	result := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial(network, addr, config)
		result <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// The dial may still complete; don't leak its connection.
			if res := <-result; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-result:
		return res.client, res.err
	}
}
