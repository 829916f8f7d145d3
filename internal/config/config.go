package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petervdpas/goopcall/internal/util"
)

// Signaling backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendP2P    = "p2p"
)

// Media drivers.
const (
	DriverCapture   = "capture"
	DriverSynthetic = "synthetic"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Call      Call      `json:"call"`
	Media     Media     `json:"media"`
	Storage   Storage   `json:"storage"`
	API       API       `json:"api"`
}

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Signaling struct {
	Backend string `json:"backend"`
	Redis   Redis  `json:"redis"`
	P2P     P2P    `json:"p2p"`
}

type Redis struct {
	Addr           string `json:"addr"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	PresenceTTLSec int    `json:"presence_ttl_seconds"`
}

type P2P struct {
	ListenPort int      `json:"listen_port"`
	MdnsTag    string   `json:"mdns_tag"`
	Bootstrap  []string `json:"bootstrap"` // multiaddrs ending in /p2p/<peer id>
}

type ICE struct {
	STUNServers            []string `json:"stun_servers"`
	DisconnectedTimeoutSec int      `json:"disconnected_timeout_seconds"`
	FailedTimeoutSec       int      `json:"failed_timeout_seconds"`
	KeepAliveSec           int      `json:"keepalive_seconds"`
}

type Call struct {
	// 0 disables the timeout; a call then rings until someone hangs up.
	SetupTimeoutSec int `json:"setup_timeout_seconds"`
}

type Media struct {
	Driver       string `json:"driver"`
	MaxWidth     int    `json:"max_width"`
	MaxHeight    int    `json:"max_height"`
	VideoBitRate int    `json:"video_bitrate"`
}

type Storage struct {
	DBPath  string `json:"db_path"`
	BlobDir string `json:"blob_dir"`
}

type API struct {
	HTTPAddr       string   `json:"http_addr"`
	PublicURL      string   `json:"public_url"`
	AllowedOrigins []string `json:"allowed_origins"`
	// Empty disables bearer-token auth on /api.
	JWTSecret string `json:"jwt_secret"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			DisplayName: "goopcall",
		},
		Signaling: Signaling{
			Backend: BackendP2P,
			Redis: Redis{
				Addr:           "127.0.0.1:6379",
				PresenceTTLSec: 60,
			},
			P2P: P2P{
				ListenPort: 0,
				MdnsTag:    "goopcall-mdns",
			},
		},
		ICE: ICE{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			DisconnectedTimeoutSec: 30,
			FailedTimeoutSec:       120,
			KeepAliveSec:           2,
		},
		Call: Call{
			SetupTimeoutSec: 45,
		},
		Media: Media{
			Driver:       DriverCapture,
			MaxWidth:     640,
			MaxHeight:    480,
			VideoBitRate: 500_000,
		},
		Storage: Storage{
			DBPath:  "data/goopcall.db",
			BlobDir: "data/blobs",
		},
		API: API{
			HTTPAddr:       "127.0.0.1:8790",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.ID) == "" {
		return errors.New("identity.id is required")
	}
	if strings.ContainsAny(c.Identity.ID, ": ") {
		return errors.New("identity.id must not contain spaces or ':'")
	}

	// Signaling
	switch c.Signaling.Backend {
	case BackendMemory, BackendP2P:
	case BackendRedis:
		if strings.TrimSpace(c.Signaling.Redis.Addr) == "" {
			return errors.New("signaling.redis.addr is required for the redis backend")
		}
		if c.Signaling.Redis.PresenceTTLSec <= 0 {
			return errors.New("signaling.redis.presence_ttl_seconds must be > 0")
		}
	default:
		return fmt.Errorf("signaling.backend must be one of %s, %s, %s", BackendMemory, BackendRedis, BackendP2P)
	}
	if c.Signaling.P2P.ListenPort < 0 || c.Signaling.P2P.ListenPort > 65535 {
		return errors.New("signaling.p2p.listen_port must be 0..65535")
	}
	if c.Signaling.Backend == BackendP2P && strings.TrimSpace(c.Signaling.P2P.MdnsTag) == "" {
		return errors.New("signaling.p2p.mdns_tag is required")
	}

	// ICE
	for _, s := range c.ICE.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("ice.stun_servers: %q is not a stun: url", s)
		}
	}
	if c.ICE.DisconnectedTimeoutSec < 0 || c.ICE.FailedTimeoutSec < 0 || c.ICE.KeepAliveSec < 0 {
		return errors.New("ice timeouts must be >= 0")
	}

	// Call
	if c.Call.SetupTimeoutSec < 0 {
		return errors.New("call.setup_timeout_seconds must be >= 0")
	}

	// Media
	switch c.Media.Driver {
	case DriverCapture, DriverSynthetic:
	default:
		return fmt.Errorf("media.driver must be %s or %s", DriverCapture, DriverSynthetic)
	}
	if c.Media.MaxWidth <= 0 || c.Media.MaxHeight <= 0 {
		return errors.New("media.max_width and media.max_height must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path is required")
	}
	if strings.TrimSpace(c.Storage.BlobDir) == "" {
		return errors.New("storage.blob_dir is required")
	}

	// API
	if _, _, err := net.SplitHostPort(c.API.HTTPAddr); err != nil {
		return fmt.Errorf("api.http_addr: %w", err)
	}
	if u := strings.TrimSpace(c.API.PublicURL); u != "" {
		if err := validatePublicURL(u); err != nil {
			return fmt.Errorf("api.public_url: %w", err)
		}
	}

	return nil
}

func validatePublicURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// SetupTimeout is the call-setup timeout as a duration; zero means disabled.
func (c Call) SetupTimeout() time.Duration {
	return time.Duration(c.SetupTimeoutSec) * time.Second
}

// BaseURL is where blobs and avatars are served from.
func (a API) BaseURL() string {
	if a.PublicURL != "" {
		return strings.TrimRight(a.PublicURL, "/")
	}
	return "http://" + a.HTTPAddr
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file
// with a freshly generated identity. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Identity.ID = uuid.NewString()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	ApplyEnv(&cfg)
	return cfg, true, cfg.Validate()
}
