// Package sshutil dials cluster login nodes over SSH, resolving hosts
// through ~/.ssh/config and authenticating with the agent or key files.
package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

// Client wraps an SSH connection with the host it was dialed for.
type Client struct {
	*ssh.Client
	host    string
	address string
}

// DialOptions controls how Dial connects.
type DialOptions struct {
	Timeout time.Duration

	// StrictHostKey verifies host keys against KnownHostsPath. When false
	// any host key is accepted.
	StrictHostKey bool

	// Empty paths default to ~/.ssh/config and ~/.ssh/known_hosts.
	ConfigPath     string
	KnownHostsPath string

	// Warn receives non-fatal notices, e.g. about Match blocks in the
	// SSH config. May be nil.
	Warn func(message string)
}

func (o DialOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return filepath.Join(homeDir(), ".ssh", "config")
}

func (o DialOptions) knownHostsPath() string {
	if o.KnownHostsPath != "" {
		return o.KnownHostsPath
	}
	return filepath.Join(homeDir(), ".ssh", "known_hosts")
}

// Dial establishes an SSH connection to host, which can be an SSH config
// alias, a hostname, user@hostname or hostname:port.
func Dial(ctx context.Context, host string, opts DialOptions) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	settings := ResolveSettings(host, opts.configPath(), opts.Warn)

	config, err := buildClientConfig(settings, opts)
	if err != nil {
		var fwErr *errors.Error
		if stderrors.As(err, &fwErr) {
			return nil, err
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Couldn't set up SSH for '%s'", host),
			"Check your keys are loaded: ssh-add -l")
	}

	address := settings.Address()
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't reach '%s' at %s", host, address),
			suggestionForDialError(err))
	}

	// Bound the handshake by the same deadline as the dial.
	_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrSSH, hostKeyErr.Error(), hostKeyErr.Suggestion())
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", host),
			suggestionForHandshakeError(err, settings.EncryptedKeys))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		host:    host,
		address: address,
	}, nil
}

// Host returns the host or alias used to connect.
func (c *Client) Host() string {
	return c.host
}

// Address returns the resolved host:port.
func (c *Client) Address() string {
	return c.address
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Settings are the connection parameters resolved for a host.
type Settings struct {
	Hostname      string
	Port          string
	User          string
	IdentityFile  string
	EncryptedKeys []string
}

// Address returns the host:port string for dialing.
func (s *Settings) Address() string {
	return net.JoinHostPort(s.Hostname, s.Port)
}

// ResolveSettings parses user@host:port and fills the gaps from the SSH
// config at configPath. A missing or unreadable config yields defaults.
func ResolveSettings(host, configPath string, warn func(string)) *Settings {
	settings := &Settings{
		Port: "22",
		User: currentUser(),
	}

	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		settings.User = host[:atIdx]
		host = host[atIdx+1:]
	}

	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		potentialPort := host[colonIdx+1:]
		if potentialPort != "" && strings.Trim(potentialPort, "0123456789") == "" {
			settings.Port = potentialPort
			host = host[:colonIdx]
		}
	}
	settings.Hostname = host

	// ssh_config doesn't understand Match, so only the part before the
	// first Match block is decoded.
	content, matchLine, err := preprocessSSHConfig(configPath)
	if err != nil {
		return settings
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return settings
	}

	hostFound := false
	if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
		settings.Hostname = hostname
		hostFound = true
	}
	if port, _ := cfg.Get(host, "Port"); port != "" {
		settings.Port = port
		hostFound = true
	}
	if user, _ := cfg.Get(host, "User"); user != "" {
		settings.User = user
		hostFound = true
	}
	if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" {
		settings.IdentityFile = expandPath(identity)
		hostFound = true
	}

	if matchLine > 0 && !hostFound && warn != nil {
		warn(fmt.Sprintf(
			"host '%s' not found in SSH config (a Match block at line %d may hide later entries)",
			host, matchLine))
	}

	return settings
}

func buildClientConfig(settings *Settings, opts DialOptions) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	tryKeyFile := func(keyPath string) {
		keyAuth, err := keyFileAuth(keyPath)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				settings.EncryptedKeys = append(settings.EncryptedKeys, keyPath)
			}
			return
		}
		authMethods = append(authMethods, keyAuth)
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}
	if settings.IdentityFile != "" {
		tryKeyFile(settings.IdentityFile)
	}
	for _, keyPath := range []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	} {
		if keyPath == settings.IdentityFile {
			continue
		}
		tryKeyFile(keyPath)
	}

	if len(authMethods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Check your keys are loaded: ssh-add -l"
		if len(settings.EncryptedKeys) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(settings.EncryptedKeys, ", "))
			suggestion = "Add them to the agent: ssh-add " + strings.Join(settings.EncryptedKeys, " ")
		}
		return nil, errors.New(errors.ErrSSH, msg, suggestion)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // strict_host_key is off
	if opts.StrictHostKey {
		cb, err := createHostKeyCallback(opts.knownHostsPath())
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            settings.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

var (
	agentMu     sync.Mutex
	agentConn   net.Conn
	agentClient agent.ExtendedAgent
)

// sshAgentAuth returns agent auth when SSH_AUTH_SOCK points at an agent
// holding at least one key. The agent connection is shared.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentMu.Lock()
	if agentClient == nil {
		if conn, err := net.Dial("unix", socket); err == nil {
			agentConn = conn
			agentClient = agent.NewClient(conn)
		}
	}
	client := agentClient
	agentMu.Unlock()

	if client == nil {
		return nil
	}
	// An empty agent placed first causes auth failures.
	signers, err := client.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(client.Signers)
}

// CloseAgent closes the shared agent connection, if any.
func CloseAgent() {
	agentMu.Lock()
	defer agentMu.Unlock()
	if agentConn != nil {
		agentConn.Close()
		agentConn = nil
		agentClient = nil
	}
}

// keyFileAuth returns EncryptedKeyError if the key needs a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Is SSH running on the login node? Try: ssh <host>"
	case strings.Contains(errStr, "no route to host"), strings.Contains(errStr, "network is unreachable"):
		return "Can't route to the host. Check VPN or network connection."
	case strings.Contains(errStr, "timeout"):
		return "Connection timed out. The login node might be down or firewalled."
	case strings.Contains(errStr, "no such host"):
		return "Hostname didn't resolve. Check remote.ssh.host_template and ~/.ssh/config."
	}
	return "Make sure the host is reachable: ssh <host>"
}

func suggestionForHandshakeError(err error, encryptedKeys []string) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		if len(encryptedKeys) > 0 {
			return "Your key(s) are encrypted. Add them to the agent: ssh-add " + strings.Join(encryptedKeys, " ")
		}
		return "Auth failed. Check your keys are loaded: ssh-add -l"
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Connect once manually to record it: ssh <host>"
	}
	return "Something went wrong during SSH setup. Try: ssh -v <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns the commands that fix the mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"Known types: %s, server sent: %s.\n"+
			"  If the login node was rebuilt, remove the old entry: ssh-keygen -R %s\n"+
			"  then record the new key: ssh-keyscan %s >> %s",
		wantStr, e.ReceivedType, host, host, e.KnownHosts)
}

// preprocessSSHConfig returns the config content up to the first Match
// directive, plus that directive's 1-based line number (0 if none).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}
	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps knownhosts to surface mismatches as
// HostKeyMismatchError. A missing known_hosts file is created empty.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0o600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err != nil && stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Hostname:     hostname,
				ReceivedType: key.Type(),
				KnownHosts:   knownHostsPath,
				Want:         keyErr.Want,
			}
		}
		return err
	}, nil
}
