package clientagent

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintparish4/brpunch/pkg/types"
)

// GameName is matched against process names and names the log directory.
const GameName = "Brickadia"

var attemptPattern = regexp.MustCompile(`^\[.+?\]\[ *\d+\]LogTemp: Attempting to connect to (.+)$`)

// LogPath returns where the game writes its log:
// <user cache dir>/Brickadia/Saved/Logs/Brickadia.log.
func LogPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrLogUnreadable, err)
	}
	return filepath.Join(dir, GameName, "Saved", "Logs", GameName+".log"), nil
}

// OpenLog opens the game log.
func OpenLog() (io.ReadCloser, error) {
	path, err := LogPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrLogUnreadable, err)
	}
	return f, nil
}

// ScanTarget returns the address of the most recent connection attempt in
// the log. The log must be valid UTF-8.
func ScanTarget(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrLogUnreadable, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: not valid UTF-8", types.ErrLogUnreadable)
	}

	var target string
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if m := attemptPattern.FindSubmatch(line); m != nil {
			target = strings.TrimSpace(string(m[1]))
		}
	}
	if target == "" {
		return "", types.ErrNoTargetFound
	}
	return target, nil
}
