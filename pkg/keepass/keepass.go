// Package keepass queries a KeePass database through the keepassxc-cli
// command line tool. The database master passphrase is written to the
// process' standard input, never passed as an argument.
package keepass

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultBinary  = "keepassxc-cli"
	defaultTimeout = 30 * time.Second

	passwordPrefix = "Password: "
)

// ErrUnavailable is returned when the keepassxc-cli process could not run or
// failed for a reason other than an empty search result.
var ErrUnavailable = errors.New("keepass database unavailable")

// Options configures a CLI.
type Options struct {
	// Binary is the path or name of the keepassxc-cli executable.
	Binary string
	// Database is the path to the .kdbx file.
	Database string
	// Passphrase unlocks the database.
	Passphrase string
	// Timeout bounds each invocation of the CLI.
	Timeout time.Duration
}

// CLI runs locate/show queries against a KeePass database.
type CLI struct {
	binary     string
	database   string
	passphrase string
	timeout    time.Duration

	execCmdFn func(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// New returns a CLI configured with opts.
func New(opts Options) *CLI {
	c := &CLI{
		binary:     opts.Binary,
		database:   opts.Database,
		passphrase: opts.Passphrase,
		timeout:    opts.Timeout,
		execCmdFn:  execCmd,
	}
	if c.binary == "" {
		c.binary = defaultBinary
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Database returns the path of the database file queried by c.
func (c *CLI) Database() string {
	return c.database
}

// Locate returns the names of the entries that match keyword. A search
// without results returns an empty list and no error.
func (c *CLI) Locate(ctx context.Context, keyword string) ([]string, error) {
	out, err := c.run(ctx, "locate", c.database, keyword)
	if err != nil {
		return nil, fmt.Errorf("locate %q: %w", keyword, err)
	}
	var entries []string
	for _, line := range lines(out) {
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

// Show returns the password values of the entry.
func (c *CLI) Show(ctx context.Context, entry string) ([]string, error) {
	out, err := c.run(ctx, "show", "-s", c.database, entry)
	if err != nil {
		return nil, fmt.Errorf("show %q: %w", entry, err)
	}
	var passwords []string
	for _, line := range lines(out) {
		if pwd, ok := strings.CutPrefix(line, passwordPrefix); ok {
			passwords = append(passwords, pwd)
		}
	}
	return passwords, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, exitCode, err := c.execCmdFn(ctx, []byte(c.passphrase+"\n"), c.binary, args...)
	if err != nil {
		if exitCode > 0 && bytes.Contains(stderr, []byte("No results")) {
			return nil, nil
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: exit code %d: %s", ErrUnavailable, exitCode, msg)
	}
	return stdout, nil
}

func lines(b []byte) []string {
	var res []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		res = append(res, sc.Text())
	}
	return res
}

func execCmd(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}
