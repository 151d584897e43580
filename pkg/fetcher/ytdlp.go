package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sipeed/mp3relay/pkg/logger"
	"github.com/sipeed/mp3relay/pkg/utils"
)

// Options configures the yt-dlp invocation.
type Options struct {
	Binary         string
	Format         string
	AudioCodec     string
	AudioQuality   string
	OutputTemplate string
	CookieFile     string
	WorkDir        string
	Timeout        time.Duration
}

// Runner executes name with args inside dir and returns its stdout and stderr.
type Runner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// YTDLP fetches locators with the yt-dlp command line tool.
type YTDLP struct {
	opts Options
	run  Runner
}

func NewYTDLP(opts Options) *YTDLP {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = "bestaudio/best"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "mp3"
	}
	if opts.OutputTemplate == "" {
		opts.OutputTemplate = "%(id)s.%(ext)s"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	return &YTDLP{opts: opts, run: execRunner}
}

// WithRunner replaces process execution, mainly for tests.
func (y *YTDLP) WithRunner(run Runner) *YTDLP {
	y.run = run
	return y
}

func (y *YTDLP) Options() Options {
	return y.opts
}

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader("")
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Args returns the yt-dlp command line for locator, without the binary.
// The info JSON is printed on stdout while the download still happens.
func (y *YTDLP) Args(locator string) []string {
	args := []string{
		"-f", y.opts.Format,
		"-x",
		"--audio-format", y.opts.AudioCodec,
	}
	if q := qualityArg(y.opts.AudioQuality); q != "" {
		args = append(args, "--audio-quality", q)
	}
	args = append(args,
		"-o", y.opts.OutputTemplate,
		"--no-playlist",
		"--no-progress",
		"-j", "--no-simulate",
		"--print", "after_move:filepath",
	)
	if cookie := y.cookieFile(); cookie != "" {
		args = append(args, "--cookies", cookie)
	}
	// "--" keeps a locator that starts with "-" from being read as a flag.
	return append(args, "--", locator)
}

func (y *YTDLP) cookieFile() string {
	if y.opts.CookieFile == "" {
		return ""
	}
	path := y.opts.CookieFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(y.opts.WorkDir, path)
	}
	// The tool runs inside a scratch directory, so relative paths would miss.
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if _, err := os.Stat(path); err != nil {
		logger.DebugCF("fetcher", "Cookie file not readable, fetching without it", map[string]any{
			"path": path,
		})
		return ""
	}
	return path
}

// qualityArg turns a bitrate like "192" into "192K". VBR levels 0-10 and
// values that already carry a unit pass through.
func qualityArg(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 10 {
		return q
	}
	return q + "K"
}

type videoInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
	raw      map[string]any
}

// Fetch downloads and transcodes locator. The locator is not validated;
// whatever the tool makes of it decides success. Each call runs in its own
// scratch directory under WorkDir, so two fetches of the same video never
// share a file.
func (y *YTDLP) Fetch(ctx context.Context, locator string) (*Artifact, error) {
	if y.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.opts.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(y.opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: work dir: %v", ErrFetchFailed, err)
	}
	dir, err := os.MkdirTemp(y.opts.WorkDir, ".fetch-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", ErrFetchFailed, err)
	}
	keep := false
	defer func() {
		if !keep {
			os.RemoveAll(dir)
		}
	}()

	start := time.Now()
	stdout, stderr, err := y.run(ctx, dir, y.opts.Binary, y.Args(locator)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v%s", ErrFetchFailed, y.opts.Binary, err, stderrTail(stderr))
	}

	info, err := parseInfo(stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	path := printedPath(dir, stdout)
	if path == "" {
		path = y.expectedPath(dir, info)
	}
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return nil, fmt.Errorf("%w: output file not found after download: %s", ErrFetchFailed, path)
	}

	logger.InfoCF("fetcher", "Successfully downloaded", map[string]any{
		"id":       info.ID,
		"path":     path,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})

	keep = true
	return &Artifact{
		ID:       info.ID,
		Title:    info.Title,
		Path:     path,
		Dir:      dir,
		Ext:      y.opts.AudioCodec,
		Duration: int(info.Duration),
		Uploader: info.Uploader,
	}, nil
}

// printedPath returns the final file reported by --print after_move:filepath,
// which follows the tool's own filename sanitizing. Progress and JSON lines
// are skipped; a line counts only if it names an existing regular file.
func printedPath(dir string, stdout []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "{") {
			continue
		}
		path := line
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			return path
		}
	}
	return ""
}

// parseInfo reads the last JSON object line printed by -j.
func parseInfo(stdout []byte) (*videoInfo, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var info videoInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, fmt.Errorf("decode info json: %w", err)
		}
		if err := json.Unmarshal([]byte(line), &info.raw); err != nil {
			return nil, fmt.Errorf("decode info json: %w", err)
		}
		if info.ID == "" {
			return nil, fmt.Errorf("info json has no id")
		}
		return &info, nil
	}
	return nil, fmt.Errorf("no info json in tool output")
}

var templateField = regexp.MustCompile(`%\(([A-Za-z0-9_]+)\)s`)

// expectedPath renders the output template the way the tool would after
// audio extraction: %(ext)s becomes the target codec, other fields come
// from the info JSON. It is the fallback for tools that do not print the
// final path, and is exact only for %(id)s and %(ext)s.
func (y *YTDLP) expectedPath(dir string, info *videoInfo) string {
	name := templateField.ReplaceAllStringFunc(y.opts.OutputTemplate, func(m string) string {
		field := templateField.FindStringSubmatch(m)[1]
		switch field {
		case "id":
			return info.ID
		case "ext":
			return y.opts.AudioCodec
		}
		if v, ok := info.raw[field]; ok {
			return utils.SanitizeFilename(fmt.Sprint(v))
		}
		return "NA"
	})
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func stderrTail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	return ": " + utils.Truncate(strings.TrimSpace(lines[len(lines)-1]), 300)
}
