package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tg-guardian/internal/config"
	"tg-guardian/internal/handler"
	"tg-guardian/internal/logger"
)

// WebhookServer represents the HTTP server behind the webhook and the
// metrics and debug endpoints.
type WebhookServer struct {
	server   *http.Server
	certFile string
	keyFile  string
}

func newServer(cfg config.WebhookConfig, mux *http.ServeMux) *WebhookServer {
	port := cfg.ListenPort
	if port == "" {
		port = "8443"
		logger.Infof("Using default listen port: %s", port)
	}
	return &WebhookServer{
		server: &http.Server{
			Addr:              "0.0.0.0:" + port,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
	}
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (ws *WebhookServer) Start() error {
	logger.Infof("Starting HTTP server on %s", ws.server.Addr)

	var err error
	if ws.certFile != "" && ws.keyFile != "" {
		logger.Infof("Using TLS with cert: %s, key: %s", ws.certFile, ws.keyFile)
		err = ws.server.ListenAndServeTLS(ws.certFile, ws.keyFile)
	} else {
		logger.Info("Running without TLS. Make sure a HTTPS proxy is in front of this server")
		err = ws.server.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (ws *WebhookServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

// webhookPath picks the path updates are posted to: the endpoint's own
// path, else the configured path, else /webhook.
func webhookPath(cfg config.WebhookConfig) (string, error) {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return parsed.Path, nil
	}
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	return "/webhook", nil
}

// SetupWebhook registers the webhook with Telegram and mounts the update
// receiver on mux.
func SetupWebhook(ctx context.Context, bot *telego.Bot, cfg config.WebhookConfig, secret string, mux *http.ServeMux, allowed []string) (<-chan telego.Update, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if (cfg.CertFile == "" || cfg.KeyFile == "") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("HTTPS configuration required: set cert_file and key_file in config or use a HTTPS proxy")
	}
	path, err := webhookPath(cfg)
	if err != nil {
		return nil, err
	}

	logger.Infof("Setting webhook to: %s", cfg.Endpoint)
	err = bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:            cfg.Endpoint,
		AllowedUpdates: allowed,
		SecretToken:    secret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook: %w", err)
	}

	info, err := bot.GetWebhookInfo(ctx)
	if err != nil {
		logger.Warningf("Failed to get webhook info: %v", err)
	} else {
		logger.Infof("Webhook info: URL=%s, HasCustomCert=%v, PendingUpdateCount=%d",
			info.URL, info.HasCustomCertificate, info.PendingUpdateCount)
		if info.LastErrorDate > 0 {
			logger.Warningf("Webhook last error: [%d] %s", info.LastErrorDate, info.LastErrorMessage)
		}
	}

	updates, err := bot.UpdatesViaWebhook(ctx, telego.WebhookHTTPServeMux(mux, path, secret))
	if err != nil {
		return nil, fmt.Errorf("failed to get updates channel: %w", err)
	}
	return updates, nil
}

// newServeMux mounts the metrics and debug endpoints.
func newServeMux(cfg *config.Config, bot *telego.Bot) *http.ServeMux {
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled && cfg.Metrics.Path != "" {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		logger.Infof("Serving metrics at %s", cfg.Metrics.Path)
	}
	if cfg.Bot.Webhook.DebugPath != "" {
		mux.HandleFunc(cfg.Bot.Webhook.DebugPath, debugHandler(bot, cfg.Bot.Webhook.Enabled))
	}
	return mux
}

// debugHandler reports processing counters and, in webhook mode, the
// webhook state Telegram sees.
func debugHandler(bot *telego.Bot, webhook bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Infof("Debug endpoint accessed: %s %s", r.Method, r.URL.Path)

		var b strings.Builder
		b.WriteString(handler.GetDetailedStatus())

		if webhook && bot != nil {
			info, err := bot.GetWebhookInfo(r.Context())
			if err != nil {
				fmt.Fprintf(&b, "\nError getting webhook info: %v\n", err)
			} else {
				fmt.Fprintf(&b, "\nWebhook URL: %s\n", info.URL)
				fmt.Fprintf(&b, "Custom Certificate: %v\n", info.HasCustomCertificate)
				fmt.Fprintf(&b, "Pending Updates: %d\n", info.PendingUpdateCount)
				if info.LastErrorDate > 0 {
					errorTime := time.Unix(int64(info.LastErrorDate), 0)
					fmt.Fprintf(&b, "Last Error: [%s] %s\n", errorTime.Format(time.DateTime), info.LastErrorMessage)
				}
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(b.String()))
	}
}
