package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadEnvFile applies KEY=value pairs from a dotenv-style file to the
// process environment before Load reads it. Only keys the bridge
// consumes are applied: the CAST_BRIDGE_* namespace plus PORT. A value
// already present in the real environment wins over the file, so the
// file holds defaults, not overrides. A missing file is not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := parseEnvLine(sc.Text())
		if !ok || !bridgeEnvKey(key) {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		os.Setenv(key, value)
	}
	return sc.Err()
}

// parseEnvLine splits one dotenv line into key and value. Blank lines,
// comments and lines without a key are skipped; matching single or
// double quotes around the value are stripped.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}

// bridgeEnvKey reports whether Load reads the key, directly or via the
// PORT fallback.
func bridgeEnvKey(key string) bool {
	return key == "PORT" || strings.HasPrefix(key, "CAST_BRIDGE_")
}
