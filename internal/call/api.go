package call

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ICEConfig configures NAT traversal for new peer connections.
type ICEConfig struct {
	STUNServers         []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAlive           time.Duration
}

// NewConnFactory returns a factory of pion peer connections. registerCodecs
// installs the codecs local tracks encode with; a fresh media engine and
// interceptor registry is built per connection.
func NewConnFactory(registerCodecs func(*webrtc.MediaEngine) error, ice ICEConfig) ConnFactory {
	return func() (Conn, error) {
		mediaEngine := &webrtc.MediaEngine{}
		if err := registerCodecs(mediaEngine); err != nil {
			return nil, err
		}

		interceptorRegistry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
			return nil, err
		}

		// A brief NAT hiccup must not end the call; the pion default
		// disconnected timeout is 5s.
		se := webrtc.SettingEngine{}
		if ice.DisconnectedTimeout > 0 && ice.FailedTimeout > 0 {
			se.SetICETimeouts(ice.DisconnectedTimeout, ice.FailedTimeout, ice.KeepAlive)
		}

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		)

		cfg := webrtc.Configuration{}
		if len(ice.STUNServers) > 0 {
			cfg.ICEServers = []webrtc.ICEServer{{URLs: ice.STUNServers}}
		}
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return &pionConn{pc: pc}, nil
	}
}
