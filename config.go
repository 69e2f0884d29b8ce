package xacoord

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Configuration carries the coordinator's externally supplied options, loaded from JSON.
type Configuration struct {
	ServerID string `json:"serverId"`

	LogPart1Filename string `json:"logPart1Filename"`
	LogPart2Filename string `json:"logPart2Filename"`
	MaxLogSizeInMb   int    `json:"maxLogSizeInMb"`

	ForcedWriteEnabled   bool `json:"forcedWriteEnabled"`
	ForceBatchingEnabled bool `json:"forceBatchingEnabled"`
	SkipCorruptedLogs    bool `json:"skipCorruptedLogs"`

	DefaultTransactionTimeout  time.Duration `json:"defaultTransactionTimeout"`
	GracefulShutdownInterval   time.Duration `json:"gracefulShutdownInterval"`
	BackgroundRecoveryInterval time.Duration `json:"backgroundRecoveryInterval"`

	CurrentNodeOnlyRecovery bool `json:"currentNodeOnlyRecovery"`
	Asynchronous2Pc         bool `json:"asynchronous2Pc"`

	WarnAboutZeroResourceTransaction bool   `json:"warnAboutZeroResourceTransaction"`
	FilterLogStatus                  string `json:"filterLogStatus"`

	AdminAPIAddr        string `json:"adminApiAddr"`
	AdminAPIAuthEnabled bool   `json:"adminApiAuthEnabled"`
	AdminAPIOktaIssuer  string `json:"adminApiOktaIssuer"`
	AdminAPIOktaAud     string `json:"adminApiOktaAud"`

	// Overrides is a free-form property map consulted by ${name} resolution after the
	// Configuration's own fields, and read by resource adapters for their driver settings.
	Overrides map[string]string `json:"properties"`
}

// DefaultConfiguration returns a Configuration with the coordinator's defaults.
func DefaultConfiguration() Configuration {
	return Configuration{
		ServerID:                         "xacoord-1",
		LogPart1Filename:                 "xacoord1.log",
		LogPart2Filename:                 "xacoord2.log",
		MaxLogSizeInMb:                   4,
		ForcedWriteEnabled:               true,
		ForceBatchingEnabled:             true,
		SkipCorruptedLogs:                false,
		DefaultTransactionTimeout:        60 * time.Second,
		GracefulShutdownInterval:         15 * time.Second,
		BackgroundRecoveryInterval:       0,
		CurrentNodeOnlyRecovery:          false,
		Asynchronous2Pc:                  true,
		WarnAboutZeroResourceTransaction: true,
	}
}

// LoadConfiguration reads a JSON file into memory and resolves ${name} property references.
func LoadConfiguration(filename string) (Configuration, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return Configuration{}, err
	}
	c := DefaultConfiguration()
	if err := json.Unmarshal(raw, &c); err != nil {
		return Configuration{}, err
	}
	if err := c.resolveProperties(); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// propertyRefs are the string fields eligible for ${name} substitution.
func (c *Configuration) propertyRefs() map[string]*string {
	return map[string]*string{
		"serverId":         &c.ServerID,
		"logPart1Filename": &c.LogPart1Filename,
		"logPart2Filename": &c.LogPart2Filename,
		"filterLogStatus":  &c.FilterLogStatus,
		"adminApiAddr":     &c.AdminAPIAddr,
	}
}

// resolveProperties expands ${name} references against the Configuration's own fields and
// then against Overrides. An empty ${} reference or an unclosed ${foo is a configuration error
// whose message quotes the offending token.
func (c *Configuration) resolveProperties() error {
	refs := c.propertyRefs()
	for name, field := range refs {
		resolved, err := resolveString(*field, refs, c.Overrides)
		if err != nil {
			return fmt.Errorf("xacoord: resolving configuration property %q: %w", name, err)
		}
		*field = resolved
	}
	return nil
}

func resolveString(s string, refs map[string]*string, overrides map[string]string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 >= len(s) || s[i+1] != '{' {
			out.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			return "", fmt.Errorf("unclosed property reference %q", s[i:])
		}
		token := s[i+2 : i+2+end]
		if token == "" {
			return "", fmt.Errorf("empty property reference \"${}\"")
		}
		if field, ok := refs[token]; ok {
			out.WriteString(*field)
		} else if v, ok := overrides[token]; ok {
			out.WriteString(v)
		} else {
			return "", fmt.Errorf("unresolved property reference %q", token)
		}
		i += 2 + end + 1
	}
	return out.String(), nil
}
