package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	AuthToken      string
	HighThreadMode bool // advanced socket options for high concurrency
	SocketBuffer   int  // SO_RCVBUF/SO_SNDBUF in high-thread mode
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type KeeperHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewKeeperHTTPClient builds the shared client used for probes and chunk
// requests. Timeout bounds dialing and waiting for response headers only, so a
// long chunk body is never cut off mid-stream; stalled bodies are bounded per
// read by the downloader.
func NewKeeperHTTPClient(cfg HTTPClientConfig) *KeeperHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	if cfg.SocketBuffer <= 0 {
		cfg.SocketBuffer = DefaultSocketBuffer
	}
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd, cfg.SocketBuffer)
			}); err != nil {
				return err
			}
			if sockErr != nil {
				log.Debug().Str("op", "utils/http-client").Str("address", address).Err(sockErr).Msg("socket tuning not applied")
			}
			return nil
		}
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		TLSHandshakeTimeout:   cfg.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
		MaxConnsPerHost:       0,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Error().Str("op", "utils/http-client").Err(err).Msg("invalid proxy URL, proceeding without proxy")
		} else {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	var rt http.RoundTripper = transport
	if cfg.AuthToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AuthToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &KeeperHTTPClient{
		client: &http.Client{Transport: rt},
		config: cfg,
	}
}

func (k *KeeperHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if k.config.UserAgent != "" {
		req.Header.Set("User-Agent", k.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for key, v := range k.config.Headers {
		req.Header.Set(key, v)
	}
	return k.client.Do(req)
}
