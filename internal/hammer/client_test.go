package hammer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silvematt/NECRO-MMO/internal/authsession"
	"github.com/silvematt/NECRO-MMO/internal/tlsnet"
)

type inlinePoster struct{}

func (inlinePoster) Post(fn func()) { fn() }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "necroauth-hammer-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// pairedConns returns unhandshaked server/client *tls.Conn over real
// loopback TCP, mirroring authsession's test helper of the same name but
// deferring the handshake to the Client under test (which drives it via
// BeginHandshake, just as it would against a real auth server).
func pairedConns(t *testing.T) (server, client *tls.Conn) {
	t.Helper()
	cert := generateSelfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	clientCfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverCh := make(chan *tls.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverCh <- c.(*tls.Conn)
	}()

	clientRaw, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	require.NoError(t, err)
	t.Cleanup(func() { clientRaw.Close() })

	serverRaw := <-serverCh
	t.Cleanup(func() { serverRaw.Close() })
	return serverRaw, clientRaw
}

func newTestClient(t *testing.T) (*Client, *tls.Conn, chan Result) {
	t.Helper()
	serverRaw, clientRaw := pairedConns(t)
	require.NoError(t, serverRaw.Handshake())

	conn := tlsnet.NewConn(1, clientRaw, inlinePoster{}, 4)
	c := New(1, conn, inlinePoster{}, Config{
		Username:           "matt",
		Password:           "124",
		ClientVersionMajor: 1,
		HandshakeTimeout:   2 * time.Second,
	}, testLogger())

	resultCh := make(chan Result, 1)
	c.OnDone = func(r Result) { resultCh <- r }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	c.BeginHandshake(ctx)

	return c, serverRaw, resultCh
}

// readExactFromServer blocks until exactly n raw bytes have arrived on
// server, or the test times out. There is no outer framing on the wire
// (spec.md §4.6): the caller must already know how many bytes the
// expected request is, exactly as a real auth server would from the
// packet's own kind/varSize header.
func readExactFromServer(t *testing.T, server *tls.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(server, buf)
	require.NoError(t, err)
	return buf
}

func TestClientSendsGatherInfoAfterHandshake(t *testing.T) {
	_, server, _ := newTestClient(t)

	// kind(1)+varSize(2)+verMaj(1)+verMin(1)+verRev(1)+usernameLen(1) + "matt"
	got := readExactFromServer(t, server, 11)
	require.Equal(t, authsession.OpLoginGatherInfo, got[0])
	require.Equal(t, uint8(1), got[3]) // verMaj
	username := got[7:]
	require.Equal(t, "matt", string(username))
}

func TestClientFollowsThroughToLoginAttemptOnSuccess(t *testing.T) {
	_, server, resultCh := newTestClient(t)

	// consume LOGIN_GATHER_INFO request
	readExactFromServer(t, server, 11)

	// reply SUCCESS, raw on the wire with no outer framing
	_, err := server.Write([]byte{authsession.OpLoginGatherInfo, byte(authsession.AuthSuccess)})
	require.NoError(t, err)

	// kind(1)+varSize(2)+clientIvPrefix(4)+passwordLen(1) + "124"
	got := readExactFromServer(t, server, 11)
	require.Equal(t, authsession.OpLoginAttempt, got[0])
	password := got[8:]
	require.Equal(t, "124", string(password))

	var sessionKey, greetcode [16]byte
	for i := range sessionKey {
		sessionKey[i] = byte(i)
		greetcode[i] = byte(0xF0 + i%16)
	}
	reply := append([]byte{authsession.OpLoginAttempt, byte(authsession.LoginProofSuccess), 32, 0}, sessionKey[:]...)
	reply = append(reply, greetcode[:]...)
	_, err = server.Write(reply)
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.True(t, res.Success)
		require.Equal(t, sessionKey, res.SessionKey)
		require.Equal(t, greetcode, res.Greetcode)
	case <-time.After(2 * time.Second):
		t.Fatal("result never delivered")
	}
}

func TestClientReportsFailureOnUnknownAccount(t *testing.T) {
	_, server, resultCh := newTestClient(t)

	readExactFromServer(t, server, 11)
	_, err := server.Write([]byte{authsession.OpLoginGatherInfo, byte(authsession.AuthFailedUnknownAccount)})
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.False(t, res.Success)
		require.Error(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("result never delivered")
	}
}

// TestClientHandlesReplySplitAcrossReads writes each reply one byte at a
// time with a delay in between, forcing the client's read goroutine to see
// several short reads instead of one reply per read. There is no outer
// framing to announce how much to wait for, so Client must accumulate and
// re-check on every chunk, exactly like authsession.dispatch does on the
// server side.
func TestClientHandlesReplySplitAcrossReads(t *testing.T) {
	_, server, resultCh := newTestClient(t)

	writeSlowly := func(b []byte) {
		for _, by := range b {
			_, err := server.Write([]byte{by})
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
		}
	}

	readExactFromServer(t, server, 11)
	writeSlowly([]byte{authsession.OpLoginGatherInfo, byte(authsession.AuthSuccess)})

	readExactFromServer(t, server, 11)
	var sessionKey, greetcode [16]byte
	for i := range sessionKey {
		sessionKey[i] = byte(i)
		greetcode[i] = byte(0xF0 + i%16)
	}
	reply := append([]byte{authsession.OpLoginAttempt, byte(authsession.LoginProofSuccess), 32, 0}, sessionKey[:]...)
	reply = append(reply, greetcode[:]...)
	writeSlowly(reply)

	select {
	case res := <-resultCh:
		require.True(t, res.Success)
		require.Equal(t, sessionKey, res.SessionKey)
		require.Equal(t, greetcode, res.Greetcode)
	case <-time.After(5 * time.Second):
		t.Fatal("result never delivered")
	}
}

func TestClientReportsFailureOnWrongPassword(t *testing.T) {
	_, server, resultCh := newTestClient(t)

	readExactFromServer(t, server, 11)
	_, err := server.Write([]byte{authsession.OpLoginGatherInfo, byte(authsession.AuthSuccess)})
	require.NoError(t, err)
	readExactFromServer(t, server, 11)
	_, err = server.Write([]byte{authsession.OpLoginAttempt, byte(authsession.LoginProofFailed), 0, 0})
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.False(t, res.Success)
		require.Error(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("result never delivered")
	}
}
