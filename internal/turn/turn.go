// Package turn embeds a TURN relay so calls connect even when both
// peers sit behind symmetric NAT. Credentials are static, generated
// once and persisted next to the binary.
package turn

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/turn/v3"
)

const credentialsUser = "chat-relay"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Server struct {
	server *turn.Server
	creds  Credentials
	port   int
	log    *slog.Logger
}

// Start opens the UDP listener and brings up the relay. The relay
// address is the machine's public IP when reachable, the outbound local
// IP otherwise.
func Start(port int, realm string, log *slog.Logger) (*Server, error) {
	listener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("turn listener: %w", err)
	}

	creds := loadOrGenerateCredentials(log)

	relayIP := publicIP(log)
	if relayIP == nil {
		relayIP = outboundLocalIP()
	}
	log.Info("turn relay address", "ip", relayIP.String(), "port", port, "realm", realm)

	srv, err := turn.NewServer(turn.ServerConfig{
		Realm:       realm,
		AuthHandler: staticAuth(realm, creds),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: listener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("turn server: %w", err)
	}

	return &Server{server: srv, creds: creds, port: port, log: log}, nil
}

// Credentials returns the username/password clients must present.
func (s *Server) Credentials() Credentials { return s.creds }

// Port returns the UDP port the relay listens on.
func (s *Server) Port() int { return s.port }

func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func staticAuth(realm string, creds Credentials) turn.AuthHandler {
	return func(username string, _ string, _ net.Addr) ([]byte, bool) {
		if username != creds.Username {
			return nil, false
		}
		return turn.GenerateAuthKey(username, realm, creds.Password), true
	}
}

func loadOrGenerateCredentials(log *slog.Logger) Credentials {
	path := credentialsPath()

	if data, err := os.ReadFile(path); err == nil {
		var creds Credentials
		if err := json.Unmarshal(data, &creds); err == nil && creds.Password != "" {
			return creds
		}
	}

	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	creds := Credentials{
		Username: credentialsUser,
		Password: hex.EncodeToString(buf),
	}

	if data, err := json.MarshalIndent(creds, "", "  "); err == nil {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
			if err := os.WriteFile(path, data, 0600); err == nil {
				log.Info("turn credentials saved", "path", path)
			}
		}
	}
	return creds
}

func credentialsPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return filepath.Join("keys", "turn.json")
	}
	return filepath.Join(filepath.Dir(execPath), "keys", "turn.json")
}

// publicIP asks an external echo service for the address peers will
// reach the relay at. Returns nil when unreachable.
func publicIP(log *slog.Logger) net.IP {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		log.Warn("public ip lookup failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("public ip lookup failed", "status", resp.Status)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return net.ParseIP(strings.TrimSpace(string(body)))
}

// outboundLocalIP finds the interface address used for outbound
// traffic. Loopback is the last resort.
func outboundLocalIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return net.ParseIP("127.0.0.1")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
