package automation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const (
	httpTimeout     = 10 * time.Second
	httpReplyChars  = 500
	scriptTimeout   = 10 * time.Second
	scriptStdoutCap = 1 << 20
)

var httpClient = &http.Client{Timeout: httpTimeout}

// fetchReply performs the responder HTTP GET and returns the first 500
// characters of the body.
func fetchReply(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, scriptStdoutCap))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}

	return truncateRunes(strings.TrimSpace(string(body)), httpReplyChars), nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit])
}

// runScript executes a configured script with the trigger captures in
// the environment as PARAM_<name>. Stdout is capped at 1 MiB and the
// wall clock at 10 s; the trimmed stdout is the reply text.
func runScript(ctx context.Context, script string, params map[string]string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, script)
	cmd.Env = append(os.Environ(), paramEnv(params)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("pipe script %s: %w", script, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start script %s: %w", script, err)
	}

	out, readErr := io.ReadAll(io.LimitReader(stdout, scriptStdoutCap))
	// Drain anything past the cap so the script is not blocked on a full
	// pipe; the reply keeps only the capped prefix.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("script %s exceeded %s", script, scriptTimeout)
	}
	if waitErr != nil {
		return "", fmt.Errorf("script %s: %w", script, waitErr)
	}
	if readErr != nil {
		return "", fmt.Errorf("read script %s output: %w", script, readErr)
	}

	return strings.TrimSpace(string(out)), nil
}

func paramEnv(params map[string]string) []string {
	env := make([]string, 0, len(params))
	for name, value := range params {
		env = append(env, fmt.Sprintf("PARAM_%s=%s", name, value))
	}
	sort.Strings(env)

	return env
}
