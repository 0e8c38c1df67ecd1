package authsession

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/silvematt/NECRO-MMO/internal/dbworker"
	"github.com/silvematt/NECRO-MMO/internal/logindb"
	"github.com/silvematt/NECRO-MMO/internal/netmsg"
)

// constantTimeEqual compares two passwords without leaking timing
// information about how many leading bytes matched. Clear-text comparison
// itself is left as-is (see the CheckPassword note in internal/logindb); only the
// comparison's timing profile is hardened here.
func constantTimeEqual(stored, submitted string) bool {
	if len(stored) != len(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// isAlphanumeric reports whether every byte of s is alphanumeric. An empty
// string is rejected: spec.md §8 calls out usernameLen = 0 as needing to be
// made an explicit ProtocolViolation rather than vacuously passing a
// naive "every byte alphanumeric" loop.
func isAlphanumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// handleLoginGatherInfo parses the LOGIN_GATHER_INFO client frame, stashes
// the submitted username/version on the session, and enqueues the account
// lookup whose callback carries the login forward.
func handleLoginGatherInfo(s *Session, frame *netmsg.Buffer) error {
	if _, err := frame.ReadUint8(); err != nil { // kind
		return err
	}
	if _, err := frame.ReadUint16(); err != nil { // varSize
		return err
	}
	verMaj, err := frame.ReadUint8()
	if err != nil {
		return err
	}
	verMin, err := frame.ReadUint8()
	if err != nil {
		return err
	}
	verRev, err := frame.ReadUint8()
	if err != nil {
		return err
	}
	usernameLen, err := frame.ReadUint8()
	if err != nil {
		return err
	}
	if int(usernameLen) > MaxUsernameLength {
		return fmt.Errorf("authsession: username length %d exceeds max %d", usernameLen, MaxUsernameLength)
	}
	usernameBytes, err := frame.ReadBytes(int(usernameLen))
	if err != nil {
		return err
	}
	username := string(usernameBytes)
	if !isAlphanumeric(username) {
		return fmt.Errorf("authsession: username contains non-alphanumeric bytes")
	}

	s.data.username = username
	s.data.clientVersion = [3]uint8{verMaj, verMin, verRev}

	req := dbworker.Request{
		QueryID:     logindb.SelAccountIDByName,
		Args:        []any{username},
		CancelToken: s.newCancelToken(),
		Poster:      s.thread,
		CreatedAt:   time.Now(),
		OnResult: func(res dbworker.Result) {
			s.onGatherInfoResult(res)
		},
	}
	s.worker.Enqueue(req)
	return nil
}

func (s *Session) onGatherInfoResult(res dbworker.Result) {
	if res.Err != nil || len(res.Rows) == 0 {
		s.metrics.RecordAuthOutcome("unknown_account")
		s.replyGatherInfo(AuthFailedUnknownAccount)
		s.conn.CloseAfterSend()
		return
	}

	if s.data.clientVersion != s.cfg.versionTuple() {
		s.metrics.RecordAuthOutcome("wrong_client_version")
		s.replyGatherInfo(AuthFailedWrongClientVersion)
		s.conn.CloseAfterSend()
		return
	}

	accountID, ok := res.Rows[0][0].(int32)
	if !ok {
		if v, ok2 := toInt32(res.Rows[0][0]); ok2 {
			accountID = v
		} else {
			s.replyGatherInfo(AuthFailedUnknownAccount)
			s.conn.CloseAfterSend()
			return
		}
	}
	s.data.accountID = accountID
	s.transitionTo(StatusLoginAttempt)
	s.replyGatherInfo(AuthSuccess)
}

func (s *Session) replyGatherInfo(result AuthResult) {
	reply := netmsg.New()
	reply.WriteUint8(OpLoginGatherInfo)
	reply.WriteUint8(uint8(result))
	s.send(reply.Bytes())
}

// handleLoginAttempt parses the LOGIN_ATTEMPT client frame, stashes the
// password and client IV prefix, and enqueues the password check.
func handleLoginAttempt(s *Session, frame *netmsg.Buffer) error {
	if _, err := frame.ReadUint8(); err != nil { // kind
		return err
	}
	if _, err := frame.ReadUint16(); err != nil { // varSize
		return err
	}
	clientIvPrefix, err := frame.ReadUint32()
	if err != nil {
		return err
	}
	passwordLen, err := frame.ReadUint8()
	if err != nil {
		return err
	}
	if int(passwordLen) > MaxPasswordLength {
		return fmt.Errorf("authsession: password length %d exceeds max %d", passwordLen, MaxPasswordLength)
	}
	passwordBytes, err := frame.ReadBytes(int(passwordLen))
	if err != nil {
		return err
	}
	password := string(passwordBytes)
	if !isAlphanumeric(password) {
		return fmt.Errorf("authsession: password contains non-alphanumeric bytes")
	}

	s.data.password = password
	s.data.clientIvPrefix = clientIvPrefix

	req := dbworker.Request{
		QueryID:     logindb.CheckPassword,
		Args:        []any{s.data.accountID},
		CancelToken: s.newCancelToken(),
		Poster:      s.thread,
		CreatedAt:   time.Now(),
		OnResult: func(res dbworker.Result) {
			s.onCheckPasswordResult(res)
		},
	}
	s.worker.Enqueue(req)
	return nil
}

func (s *Session) onCheckPasswordResult(res dbworker.Result) {
	stored, ok := extractPassword(res)
	matched := ok && constantTimeEqual(stored, s.data.password)
	s.data.password = ""

	if !matched {
		s.worker.Enqueue(dbworker.Request{
			QueryID:       logindb.InsLogWrongPassword,
			Args:          []any{s.remoteIP, s.data.username, "WRONG_PASSWORD"},
			FireAndForget: true,
			CreatedAt:     time.Now(),
		})
		s.metrics.RecordAuthOutcome("wrong_password")
		s.replyLoginAttempt(LoginProofFailed, nil, nil)
		s.conn.CloseAfterSend()
		return
	}

	if err := s.regenerateIVState(); err != nil {
		s.log.Error("failed to generate IV prefix", "err", err)
		s.replyLoginAttempt(LoginProofFailed, nil, nil)
		s.conn.CloseAfterSend()
		return
	}

	sessionKey, err := randomSessionKey()
	if err != nil {
		s.log.Error("failed to generate session key", "err", err)
		s.replyLoginAttempt(LoginProofFailed, nil, nil)
		s.conn.CloseAfterSend()
		return
	}
	greetcode, err := randomSessionKey()
	if err != nil {
		s.log.Error("failed to generate greetcode", "err", err)
		s.replyLoginAttempt(LoginProofFailed, nil, nil)
		s.conn.CloseAfterSend()
		return
	}
	s.data.sessionKey = sessionKey

	s.worker.Enqueue(dbworker.Request{
		QueryID:       logindb.DelPrevSessions,
		Args:          []any{s.data.accountID},
		FireAndForget: true,
		CreatedAt:     time.Now(),
	})
	s.worker.Enqueue(dbworker.Request{
		QueryID:       logindb.InsNewSession,
		Args:          []any{s.data.accountID, sessionKey[:], s.remoteIP, greetcode[:]},
		FireAndForget: true,
		CreatedAt:     time.Now(),
	})

	s.transitionTo(StatusAuthed)
	s.metrics.RecordAuthOutcome("success")
	s.replyLoginAttempt(LoginProofSuccess, sessionKey[:], greetcode[:])
}

// regenerateIVState picks a fresh server IV prefix distinct from the
// client's and resets the counter, per spec.md §4.6's "ensure server IV
// prefix != client's (regenerate until distinct)".
func (s *Session) regenerateIVState() error {
	for {
		prefix, err := randomIVPrefix()
		if err != nil {
			return err
		}
		if prefix != s.data.clientIvPrefix {
			s.data.ivPrefix = prefix
			s.data.ivCounter = 0
			return nil
		}
	}
}

func (s *Session) replyLoginAttempt(result LoginProofResult, sessionKey, greetcode []byte) {
	reply := netmsg.New()
	reply.WriteUint8(OpLoginAttempt)
	reply.WriteUint8(uint8(result))
	if result == LoginProofSuccess {
		reply.WriteUint16(uint16(len(sessionKey) + len(greetcode)))
		reply.WriteBytes(sessionKey)
		reply.WriteBytes(greetcode)
	} else {
		reply.WriteUint16(0)
	}
	s.send(reply.Bytes())
}

func extractPassword(res dbworker.Result) (string, bool) {
	if res.Err != nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return "", false
	}
	switch v := res.Rows[0][0].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	default:
		return 0, false
	}
}
