package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/petervdpas/goopcall/internal/api"
	"github.com/petervdpas/goopcall/internal/avatar"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/signal"
	"github.com/petervdpas/goopcall/internal/storage"
	"github.com/petervdpas/goopcall/internal/util"
)

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
	// Logs receives process log output for /api/logs. May be nil.
	Logs *api.LogBuffer
	// Started is called with the API base URL once it is serving.
	Started func(url string)
}

// Run starts one peer and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	logBanner(opt.PeerDir, opt.CfgPath, cfg.Identity.ID)

	// ── Storage
	db, err := storage.Open(util.ResolvePath(opt.PeerDir, cfg.Storage.DBPath))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	addr, url := NormalizeLocalAddr(cfg.API.HTTPAddr)
	baseURL := url
	if cfg.API.PublicURL != "" {
		baseURL = cfg.API.BaseURL()
	}
	blobs, err := avatar.NewBlobs(util.ResolvePath(opt.PeerDir, cfg.Storage.BlobDir), baseURL)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	// ── Signaling
	hub, err := newHub(ctx, cfg.Signaling)
	if err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	defer hub.Close()

	// ── Media
	devices := newDevices(cfg.Media)

	mgr := call.New(call.Options{
		SelfID:       cfg.Identity.ID,
		Hub:          hub,
		Devices:      devices,
		NewConn:      call.NewConnFactory(devices.RegisterCodecs, iceConfig(cfg.ICE)),
		Profiles:     contactProfiles{db: db, blobs: blobs},
		CallLog:      callHistory{db: db},
		SetupTimeout: cfg.Call.SetupTimeout(),
	})
	defer mgr.Close()

	contacts, err := db.ListContacts()
	if err != nil {
		return fmt.Errorf("list contacts: %w", err)
	}
	for _, c := range contacts {
		if err := mgr.Listen(ctx, c.ID); err != nil {
			log.Printf("CALL: listen for %s: %v", c.ID, err)
		}
	}
	log.Printf("CALL: listening for %d contacts", len(contacts))

	// ── Config reload: ICE and timeouts apply to the next call.
	if opt.CfgPath != "" {
		err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			mgr.Configure(call.NewConnFactory(devices.RegisterCodecs, iceConfig(next.ICE)), next.Call.SetupTimeout())
		})
		if err != nil {
			log.Printf("CONFIG: watch disabled: %v", err)
		}
	}

	// ── Control API
	srv := api.New(api.Options{
		Addr:           addr,
		SelfID:         cfg.Identity.ID,
		AllowedOrigins: cfg.API.AllowedOrigins,
		JWTSecret:      cfg.API.JWTSecret,
		Calls:          mgr,
		Store:          db,
		Blobs:          blobs,
		Logs:           opt.Logs,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Println("────────────────────────────────────────────────────────")
	log.Printf("📞 Control API: %s", srv.URL())
	log.Println("────────────────────────────────────────────────────────")
	if opt.Started != nil {
		opt.Started(srv.URL())
	}

	<-ctx.Done()
	log.Println("========================================")
	log.Println("PEER: Context cancelled, ending calls...")
	log.Println("========================================")
	return nil
}

func newHub(ctx context.Context, s config.Signaling) (signal.Hub, error) {
	switch s.Backend {
	case config.BackendMemory:
		log.Printf("SIGNAL: in-process hub (calls only reach this process)")
		return signal.NewMemoryHub(), nil
	case config.BackendRedis:
		return signal.NewRedisHub(ctx, signal.RedisOptions{
			Addr:        s.Redis.Addr,
			Password:    s.Redis.Password,
			DB:          s.Redis.DB,
			PresenceTTL: time.Duration(s.Redis.PresenceTTLSec) * time.Second,
		})
	case config.BackendP2P:
		return signal.NewP2PHub(ctx, signal.P2POptions{
			ListenPort: s.P2P.ListenPort,
			MdnsTag:    s.P2P.MdnsTag,
			Bootstrap:  s.P2P.Bootstrap,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", s.Backend)
}

// newDevices opens capture devices, falling back to synthetic tracks when
// capture is unavailable on this host.
func newDevices(m config.Media) media.Devices {
	if m.Driver == config.DriverCapture {
		d, err := media.NewCapture(media.CaptureOptions{
			MaxWidth:     m.MaxWidth,
			MaxHeight:    m.MaxHeight,
			VideoBitRate: m.VideoBitRate,
		})
		if err == nil {
			return d
		}
		log.Printf("MEDIA: capture unavailable, using synthetic devices: %v", err)
	}
	return media.NewSynthetic()
}

func iceConfig(c config.ICE) call.ICEConfig {
	return call.ICEConfig{
		STUNServers:         c.STUNServers,
		DisconnectedTimeout: time.Duration(c.DisconnectedTimeoutSec) * time.Second,
		FailedTimeout:       time.Duration(c.FailedTimeoutSec) * time.Second,
		KeepAlive:           time.Duration(c.KeepAliveSec) * time.Second,
	}
}
