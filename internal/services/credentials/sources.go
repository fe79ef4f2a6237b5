// Package credentials provides the portal username/password from the
// environment, the 1Password CLI, AWS SSM Parameter Store or an interactive prompt.
package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/ternarybob/arbor"
	"golang.org/x/term"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// Environment variables read by EnvSource
const (
	EnvUsername = "HRSYNC_USERNAME"
	EnvPassword = "HRSYNC_PASSWORD"
)

func unavailable(source string, err error) error {
	return &common.CredentialUnavailableError{Source: source, Err: err}
}

func validate(source string, cred *models.Credential) (*models.Credential, error) {
	if !cred.Valid() {
		return nil, unavailable(source, errors.New("username and password are required"))
	}
	return cred, nil
}

// EnvSource reads HRSYNC_USERNAME and HRSYNC_PASSWORD
type EnvSource struct {
	lookup func(string) string
}

func NewEnvSource() *EnvSource {
	return &EnvSource{lookup: os.Getenv}
}

func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) Credentials(ctx context.Context) (*models.Credential, error) {
	return validate(s.Name(), &models.Credential{
		Username: strings.TrimSpace(s.lookup(EnvUsername)),
		Password: s.lookup(EnvPassword),
	})
}

// CommandRunner runs an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// OnePasswordSource reads an item's username and password fields via the op CLI
type OnePasswordSource struct {
	item     string
	run      CommandRunner
	lookPath func(string) (string, error)
}

func NewOnePasswordSource(item string) *OnePasswordSource {
	return &OnePasswordSource{item: item, run: execRunner, lookPath: exec.LookPath}
}

func (s *OnePasswordSource) Name() string { return "1password" }

// Available reports whether the op CLI is installed
func (s *OnePasswordSource) Available() bool {
	_, err := s.lookPath("op")
	return err == nil
}

func (s *OnePasswordSource) Credentials(ctx context.Context) (*models.Credential, error) {
	if !s.Available() {
		return nil, unavailable(s.Name(), errors.New("1Password CLI (op) not found"))
	}

	username, err := s.run(ctx, "op", "item", "get", s.item, "--fields", "username")
	if err != nil {
		return nil, unavailable(s.Name(), fmt.Errorf("item %q (run: op signin): %w", s.item, err))
	}
	password, err := s.run(ctx, "op", "item", "get", s.item, "--fields", "password", "--reveal")
	if err != nil {
		return nil, unavailable(s.Name(), fmt.Errorf("item %q (run: op signin): %w", s.item, err))
	}

	return validate(s.Name(), &models.Credential{
		Username: strings.TrimSpace(string(username)),
		Password: strings.TrimSpace(string(password)),
	})
}

// SSMClient is the subset of *ssm.Client methods used by SSMSource.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads two SecureString parameters from SSM Parameter Store
type SSMSource struct {
	client        SSMClient
	usernameParam string
	passwordParam string
}

func NewSSMSource(client SSMClient, usernameParam, passwordParam string) *SSMSource {
	return &SSMSource{client: client, usernameParam: usernameParam, passwordParam: passwordParam}
}

func (s *SSMSource) Name() string { return "ssm" }

func (s *SSMSource) Credentials(ctx context.Context) (*models.Credential, error) {
	if s.usernameParam == "" || s.passwordParam == "" {
		return nil, unavailable(s.Name(), errors.New("credentials.ssm_username and credentials.ssm_password must be set"))
	}

	username, err := s.get(ctx, s.usernameParam)
	if err != nil {
		return nil, unavailable(s.Name(), err)
	}
	password, err := s.get(ctx, s.passwordParam)
	if err != nil {
		return nil, unavailable(s.Name(), err)
	}

	return validate(s.Name(), &models.Credential{Username: strings.TrimSpace(username), Password: password})
}

func (s *SSMSource) get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// PromptSource asks on the terminal. The password is read without echo
// when input is a terminal.
type PromptSource struct {
	in           io.Reader
	out          io.Writer
	fd           int
	readPassword func(fd int) ([]byte, error)
	isTerminal   func(fd int) bool
}

func NewPromptSource() *PromptSource {
	return &PromptSource{
		in:           os.Stdin,
		out:          os.Stderr,
		fd:           int(os.Stdin.Fd()),
		readPassword: term.ReadPassword,
		isTerminal:   term.IsTerminal,
	}
}

func (s *PromptSource) Name() string { return "prompt" }

func (s *PromptSource) Credentials(ctx context.Context) (*models.Credential, error) {
	reader := bufio.NewReader(s.in)

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Please enter your ADP iHCM credentials:")
	fmt.Fprint(s.out, "  Username (email): ")
	username, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, unavailable(s.Name(), err)
	}

	fmt.Fprint(s.out, "  Password: ")
	var password string
	if s.isTerminal(s.fd) {
		raw, err := s.readPassword(s.fd)
		fmt.Fprintln(s.out)
		if err != nil {
			return nil, unavailable(s.Name(), err)
		}
		password = string(raw)
	} else {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, unavailable(s.Name(), err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	return validate(s.Name(), &models.Credential{Username: strings.TrimSpace(username), Password: password})
}

// Chain tries each source in order and returns the first credential found
type Chain struct {
	sources []interfaces.CredentialSource
	logger  arbor.ILogger
}

func NewChain(logger arbor.ILogger, sources ...interfaces.CredentialSource) *Chain {
	return &Chain{sources: sources, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (c *Chain) Credentials(ctx context.Context) (*models.Credential, error) {
	var errs []error
	for _, source := range c.sources {
		cred, err := source.Credentials(ctx)
		if err == nil {
			c.logger.Info().Str("source", source.Name()).Str("username", cred.Username).Msg("Credentials loaded")
			return cred, nil
		}
		c.logger.Debug().Str("source", source.Name()).Err(err).Msg("Credential source unavailable")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &common.CredentialUnavailableError{Source: c.Name(), Err: errors.Join(errs...)}
}
