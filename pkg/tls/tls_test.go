package tls

import (
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestServerConfig_AutoGenerate(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Enabled:      true,
		CertFile:     filepath.Join(dir, "certs", "server.crt"),
		KeyFile:      filepath.Join(dir, "certs", "server.key"),
		AutoGenerate: true,
		Hosts:        []string{"10.0.0.5", "routes.internal"},
	}

	tlsCfg, err := ServerConfig(cfg)
	if err != nil {
		t.Fatalf("ServerConfig failed: %v", err)
	}
	if len(tlsCfg.Certificates) != 1 {
		t.Fatalf("Expected one certificate, got %d", len(tlsCfg.Certificates))
	}

	data, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(data)
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("Failed to parse generated certificate: %v", err)
	}
	if err := cert.VerifyHostname("routes.internal"); err != nil {
		t.Errorf("Expected hostname SAN: %v", err)
	}
	if err := cert.VerifyHostname("10.0.0.5"); err != nil {
		t.Errorf("Expected IP SAN: %v", err)
	}

	info, err := os.Stat(cfg.KeyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected key file mode 0600, got %v", info.Mode().Perm())
	}
}

func TestServerConfig_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := ServerConfig(Config{
		CertFile: filepath.Join(dir, "nope.crt"),
		KeyFile:  filepath.Join(dir, "nope.key"),
	})
	if err == nil {
		t.Error("Expected error when files are missing and auto-generate is off")
	}
}

func TestClientConfig_TrustsGeneratedCA(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	if err := GenerateSelfSignedCert(certFile, keyFile, "routeapi"); err != nil {
		t.Fatal(err)
	}

	serverCfg, err := ServerConfig(Config{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	server.TLS = serverCfg
	server.StartTLS()
	defer server.Close()

	clientCfg, err := ClientConfig(certFile, false)
	if err != nil {
		t.Fatalf("ClientConfig failed: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("TLS request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
}
