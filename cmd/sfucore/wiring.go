package main

import (
	"go.uber.org/zap"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
	"sfucore/internal/core/services"
	"sfucore/internal/infrastructure/identity"
	"sfucore/internal/infrastructure/reliability"
	webrtcinfra "sfucore/internal/infrastructure/webrtc"
	"sfucore/pkg/circuitbreaker"
	"sfucore/pkg/config"
	"sfucore/pkg/retry"
)

func iceServers(cfg *config.Config) []domain.ICEServer {
	servers := make([]domain.ICEServer, 0, len(cfg.Media.ICEServers))
	for _, s := range cfg.Media.ICEServers {
		servers = append(servers, domain.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return servers
}

func codecs(cfg *config.Config) []domain.RtpCodecCapability {
	out := make([]domain.RtpCodecCapability, 0, len(cfg.Media.Codecs))
	for _, c := range cfg.Media.Codecs {
		out = append(out, domain.RtpCodecCapability{
			Kind:                 domain.MediaKind(c.Kind),
			MimeType:             c.MimeType,
			PreferredPayloadType: c.PayloadType,
			ClockRate:            c.ClockRate,
			Channels:             c.Channels,
			Parameters:           c.Parameters,
		})
	}
	return out
}

func engineConfig(cfg *config.Config) webrtcinfra.Config {
	return webrtcinfra.Config{
		RTCMinPort:  cfg.Media.RTCMinPort,
		RTCMaxPort:  cfg.Media.RTCMaxPort,
		ListenIPs:   cfg.Media.ListenIPs,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		ICEServers:  iceServers(cfg),
	}
}

func controllerConfig(cfg *config.Config) services.ControllerConfig {
	wt := cfg.Media.WebRtcTransport
	return services.ControllerConfig{
		WebRtc: domain.WebRtcSettings{
			ListenIPs:                       cfg.Media.ListenIPs,
			AnnouncedIP:                     cfg.Media.AnnouncedIP,
			EnableUDP:                       wt.EnableUDP,
			EnableTCP:                       wt.EnableTCP,
			PreferUDP:                       wt.PreferUDP,
			InitialAvailableOutgoingBitrate: wt.InitialAvailableOutgoingBitrate,
			ICEServers:                      iceServers(cfg),
		},
		Room: services.RoomOptions{
			Codecs: codecs(cfg),
			Observer: ports.AudioLevelObserverOptions{
				Interval:   cfg.Media.AudioLevelObserver.Interval,
				Threshold:  cfg.Media.AudioLevelObserver.Threshold,
				MaxEntries: cfg.Media.AudioLevelObserver.MaxEntries,
			},
		},
		HeartbeatInterval: cfg.Session.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Session.Heartbeat.Timeout,
		MaxConnectWait:    cfg.Session.ConnectTimeout,
	}
}

// buildIdentity returns the configured identity provider. The remote
// provider is wrapped with retries and a circuit breaker whose stats are
// returned for the health endpoint.
func buildIdentity(cfg *config.Config, log *zap.SugaredLogger) (ports.IdentityProvider, func() circuitbreaker.Stats) {
	switch cfg.Identity.Provider {
	case "http":
		provider := identity.NewHTTPProvider(cfg.Identity.HTTP.BaseURL, cfg.Identity.HTTP.Timeout, log)

		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.Identity.Retry.MaxAttempts
		retryCfg.InitialDelay = cfg.Identity.Retry.InitialDelay
		retryCfg.MaxDelay = cfg.Identity.Retry.MaxDelay

		cbCfg := circuitbreaker.DefaultConfig()
		cbCfg.FailureThreshold = cfg.Identity.CircuitBreaker.FailureThreshold
		cbCfg.SuccessThreshold = cfg.Identity.CircuitBreaker.SuccessThreshold
		cbCfg.Timeout = cfg.Identity.CircuitBreaker.Timeout

		wrapper := reliability.NewIdentityWrapper(provider, retryCfg, cbCfg, log)
		log.Infow("using remote identity provider", "base_url", cfg.Identity.HTTP.BaseURL)
		return wrapper, wrapper.CircuitBreakerStats
	default:
		log.Info("using built-in JWT identity provider")
		return services.NewJWTIdentity(cfg.Identity.JWTSecret), nil
	}
}
