package tlsnet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// inlinePoster runs posted jobs synchronously, good enough for tests that
// don't care about thread isolation.
type inlinePoster struct{}

func (inlinePoster) Post(fn func()) { fn() }

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "necroauth-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
}

func TestConnSendAndReceiveOverTLS(t *testing.T) {
	cert := generateSelfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan *tls.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConnCh <- c.(*tls.Conn)
	}()

	clientRaw, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer clientRaw.Close()

	serverRaw := <-serverConnCh
	defer serverRaw.Close()

	// OnReadable delivers raw stream chunks with no framing, so the test
	// accumulates the way a real caller (authsession.Session) would.
	received := make(chan []byte, 1)
	var got []byte
	serverConn := NewConn(1, serverRaw, inlinePoster{}, 4)
	serverConn.OnReadable = func(data []byte) {
		got = append(got, data...)
		if len(got) >= 3 {
			received <- got
		}
	}
	serverConn.Start()

	clientConn := NewConn(2, clientRaw, inlinePoster{}, 4)
	clientConn.Start()

	require.NoError(t, clientConn.Send([]byte{0x07, 0x01, 0x02}))

	select {
	case got := <-received:
		require.Equal(t, []byte{0x07, 0x01, 0x02}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("data never arrived")
	}
}

func TestConnSendOnClosedConnectionErrors(t *testing.T) {
	cert := generateSelfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan *tls.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverConnCh <- c.(*tls.Conn)
	}()

	clientRaw, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer clientRaw.Close()
	<-serverConnCh

	clientConn := NewConn(1, clientRaw, inlinePoster{}, 4)
	clientConn.Start()
	clientConn.Close()

	err = clientConn.Send([]byte{0x01})
	require.Error(t, err)
}

func TestConnOutboundQueueFullReturnsError(t *testing.T) {
	cert := generateSelfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan *tls.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverConnCh <- c.(*tls.Conn)
	}()

	clientRaw, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer clientRaw.Close()
	serverRaw := <-serverConnCh
	defer serverRaw.Close()

	// Wrap the client side but never start its write loop, so its
	// outbound channel never drains.
	clientConn := NewConn(1, clientRaw, inlinePoster{}, 1)

	require.NoError(t, clientConn.Send([]byte{0x01}))
	err = clientConn.Send([]byte{0x02})
	require.ErrorIs(t, err, ErrOutboundQueueFull)
}
